package measure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarteye/smarteye/pkg/calibration"
)

func odsRequest(stepIndex int) calibration.MeasureRequest {
	return calibration.MeasureRequest{
		Workflow: calibration.WorkflowODS,
		Step:     calibration.ODSSteps[stepIndex],
	}
}

func TestSimulatorAlwaysPass(t *testing.T) {
	s := NewSimulator(SimulatorOptions{
		PassRate: map[calibration.Workflow]float64{calibration.WorkflowInstall: 1},
		Seed:     42,
	})
	s.SetDelay(0, 0)

	for i := range 20 {
		v, err := s.Measure(context.Background(), calibration.MeasureRequest{
			Workflow: calibration.WorkflowInstall,
			Step:     calibration.InstallSteps[i%4],
		})
		require.NoError(t, err)
		assert.True(t, v.Passed())
		assert.Empty(t, v.FailedSubmetrics)
	}
}

func TestSimulatorFailuresCarrySubmetrics(t *testing.T) {
	s := NewSimulator(SimulatorOptions{
		PassRate: map[calibration.Workflow]float64{calibration.WorkflowODS: 0},
		Seed:     7,
	})
	s.SetDelay(0, 0)

	for i := range 40 {
		step := calibration.ODSSteps[i%4]
		v, err := s.Measure(context.Background(), odsRequest(i%4))
		require.NoError(t, err)
		assert.Equal(t, calibration.StatusFail, v.Outcome)
		require.NotEmpty(t, v.FailedSubmetrics)
		for _, m := range v.FailedSubmetrics {
			assert.Contains(t, calibration.Submetrics(calibration.WorkflowODS, step.ID), m)
		}
	}
}

func TestSimulatorInstallFailureHasNoSubmetrics(t *testing.T) {
	s := NewSimulator(SimulatorOptions{
		PassRate: map[calibration.Workflow]float64{calibration.WorkflowInstall: 0},
		Seed:     1,
	})
	s.SetDelay(0, 0)

	v, err := s.Measure(context.Background(), calibration.MeasureRequest{
		Workflow: calibration.WorkflowInstall,
		Step:     calibration.InstallSteps[0],
	})
	require.NoError(t, err)
	assert.Equal(t, calibration.StatusFail, v.Outcome)
	assert.Empty(t, v.FailedSubmetrics)
}

func TestSimulatorDefaultsAndDelayBounds(t *testing.T) {
	s := NewSimulator(SimulatorOptions{Seed: 3})
	assert.Equal(t, DefaultInstallPassRate, s.passRate[calibration.WorkflowInstall])
	assert.Equal(t, DefaultODSPassRate, s.passRate[calibration.WorkflowODS])

	s = NewSimulator(SimulatorOptions{MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Seed: 3})
	for range 50 {
		d := s.delay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestSimulatorSetters(t *testing.T) {
	s := NewSimulator(SimulatorOptions{Seed: 9})
	s.SetDelay(0, 0)
	s.SetPassRate(calibration.WorkflowODS, 2)
	for range 10 {
		v, err := s.Measure(context.Background(), odsRequest(2))
		require.NoError(t, err)
		assert.True(t, v.Passed())
	}

	s.SetDelay(30*time.Millisecond, time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, s.delay())
}

func TestSimulatorHonorsContext(t *testing.T) {
	s := NewSimulator(SimulatorOptions{MinDelay: time.Hour, MaxDelay: time.Hour, Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Measure(ctx, odsRequest(0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstrument(t *testing.T) {
	var got calibration.MeasureRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/measure", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(calibration.Verdict{
			Outcome:          calibration.StatusFail,
			FailedSubmetrics: []string{"gray"},
		})
	}))
	defer srv.Close()

	inst := NewInstrument(srv.URL+"/", time.Second)
	req := odsRequest(3)
	req.Point = "top/locate"
	req.Settings = map[string]any{"wbMode": "manual", "r": 1.5}
	v, err := inst.Measure(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calibration.StatusFail, v.Outcome)
	assert.Equal(t, []string{"gray"}, v.FailedSubmetrics)
	assert.Equal(t, "wb", got.Step.ID)
	assert.Equal(t, "top/locate", got.Point)
	assert.Equal(t, map[string]any{"wbMode": "manual", "r": 1.5}, got.Settings)
}

func TestInstrumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "camera busy", http.StatusServiceUnavailable)
			},
		},
		{
			name: "non-terminal outcome",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"outcome":"running"}`))
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewInstrument(srv.URL, time.Second).Measure(context.Background(), odsRequest(0))
			assert.Error(t, err)
		})
	}
}

type flakyProvider struct {
	calls    atomic.Int32
	failures int32
}

func (f *flakyProvider) Measure(context.Context, calibration.MeasureRequest) (calibration.Verdict, error) {
	if f.calls.Add(1) <= f.failures {
		return calibration.Verdict{}, errors.New("timeout talking to camera")
	}
	return calibration.Verdict{Outcome: calibration.StatusPass}, nil
}

var fastRetry = GuardOptions{
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxElapsedTime:  time.Second,
}

func TestGuardedRetriesTransientErrors(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	g := NewGuarded(inner, nil, fastRetry)

	v, err := g.Measure(context.Background(), odsRequest(1))
	require.NoError(t, err)
	assert.True(t, v.Passed())
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestGuardedOpensBreaker(t *testing.T) {
	inner := &flakyProvider{failures: 1000}
	g := NewGuarded(inner, NewCircuitBreaker(t.Name()), fastRetry)

	_, err := g.Measure(context.Background(), odsRequest(1))
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(3), inner.calls.Load(), "breaker stops calls after 3 consecutive failures")

	_, err = g.Measure(context.Background(), odsRequest(2))
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestGuardedFailVerdictIsNotAnError(t *testing.T) {
	inner := providerFunc(func(context.Context, calibration.MeasureRequest) (calibration.Verdict, error) {
		return calibration.Verdict{Outcome: calibration.StatusFail}, nil
	})
	g := NewGuarded(inner, nil, fastRetry)
	for range 5 {
		v, err := g.Measure(context.Background(), odsRequest(0))
		require.NoError(t, err)
		assert.Equal(t, calibration.StatusFail, v.Outcome)
	}
}

func TestPointedStampsPoint(t *testing.T) {
	var seen string
	inner := providerFunc(func(_ context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
		seen = req.Point
		return calibration.Verdict{Outcome: calibration.StatusPass}, nil
	})
	p := Pointed{Inner: inner, Point: func() string { return "right-station/guide" }}
	_, err := p.Measure(context.Background(), odsRequest(0))
	require.NoError(t, err)
	assert.Equal(t, "right-station/guide", seen)
}

func TestConfiguredAttachesSettings(t *testing.T) {
	var seen any
	inner := providerFunc(func(_ context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
		seen = req.Settings
		return calibration.Verdict{Outcome: calibration.StatusPass}, nil
	})
	c := Configured{Inner: inner, Settings: func(stepID string) (any, error) {
		if stepID != "wb" {
			return nil, errors.New("no panel")
		}
		return map[string]string{"wbMode": "auto"}, nil
	}}

	_, err := c.Measure(context.Background(), odsRequest(3))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"wbMode": "auto"}, seen)

	seen = "stale"
	_, err = c.Measure(context.Background(), odsRequest(0))
	require.NoError(t, err, "a step without a panel is still measured")
	assert.Nil(t, seen)
}

type providerFunc func(context.Context, calibration.MeasureRequest) (calibration.Verdict, error)

func (f providerFunc) Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	return f(ctx, req)
}
