package measure

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/smarteye/smarteye/pkg/calibration"
)

const (
	DefaultInstallPassRate = 0.8
	DefaultODSPassRate     = 0.65
	DefaultMinDelay        = 1400 * time.Millisecond
	DefaultMaxDelay        = 2200 * time.Millisecond

	// submetricPickRate is the chance each candidate sub-metric is reported
	// on a simulated ODS failure.
	submetricPickRate = 0.7
)

// SimulatorOptions tunes the demo measurement stand-in.
type SimulatorOptions struct {
	// PassRate is the probability of a pass verdict per workflow.
	PassRate map[calibration.Workflow]float64
	MinDelay time.Duration
	MaxDelay time.Duration
	// Seed fixes the random sequence. Zero seeds from the clock.
	Seed int64
}

// Simulator returns random verdicts after a random delay. It stands in for
// real instrument feedback.
type Simulator struct {
	passRate map[calibration.Workflow]float64
	minDelay time.Duration
	maxDelay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator builds a simulator, filling unset options with defaults.
func NewSimulator(opts SimulatorOptions) *Simulator {
	rates := map[calibration.Workflow]float64{
		calibration.WorkflowInstall: DefaultInstallPassRate,
		calibration.WorkflowODS:     DefaultODSPassRate,
	}
	for w, r := range opts.PassRate {
		rates[w] = clamp01(r)
	}

	minDelay, maxDelay := opts.MinDelay, opts.MaxDelay
	if minDelay <= 0 && maxDelay <= 0 {
		minDelay, maxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Simulator{
		passRate: rates,
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Measure waits for the simulated acquisition time, then rolls a verdict.
func (s *Simulator) Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	t := time.NewTimer(s.delay())
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return calibration.Verdict{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() < s.passRate[req.Workflow] {
		return calibration.Verdict{Outcome: calibration.StatusPass}, nil
	}

	candidates := calibration.Submetrics(req.Workflow, req.Step.ID)
	var picked []string
	for _, c := range candidates {
		if s.rng.Float64() < submetricPickRate {
			picked = append(picked, c)
		}
	}
	if len(picked) == 0 && len(candidates) > 0 {
		picked = candidates[:1]
	}
	return calibration.Verdict{Outcome: calibration.StatusFail, FailedSubmetrics: picked}, nil
}

// SetPassRate changes the pass probability of w.
func (s *Simulator) SetPassRate(w calibration.Workflow, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passRate[w] = clamp01(rate)
}

// SetDelay changes the acquisition time range. A max below min is raised to
// min.
func (s *Simulator) SetDelay(minDelay, maxDelay time.Duration) {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minDelay, s.maxDelay = minDelay, maxDelay
}

func (s *Simulator) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rng.Int63n(int64(span)))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
