package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// fakeProvider returns scripted verdicts. Steps listed in block wait until
// their channel is closed; started receives the index of each call.
type fakeProvider struct {
	mu         sync.Mutex
	fail       map[int]bool
	errs       map[int]error
	submetrics map[int][]string
	block      map[int]chan struct{}
	started    chan int
	calls      []int
}

func (f *fakeProvider) Measure(_ context.Context, req calibration.MeasureRequest) (calibration.Verdict, error) {
	i := req.Step.Index
	f.mu.Lock()
	f.calls = append(f.calls, i)
	ch := f.block[i]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- i
	}
	if ch != nil {
		<-ch
	}

	if err := f.errs[i]; err != nil {
		return calibration.Verdict{}, err
	}
	if f.fail[i] {
		return calibration.Verdict{Outcome: calibration.StatusFail, FailedSubmetrics: f.submetrics[i]}, nil
	}
	return calibration.Verdict{Outcome: calibration.StatusPass}, nil
}

func (f *fakeProvider) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// recorder is a Presenter that keeps every notification. When runner is set
// it also samples the runner on each step event.
type recorder struct {
	mu         sync.Mutex
	runner     *StepRunner
	steps      []calibration.StepEvent
	advisories []calibration.Advisory
	results    []calibration.RunResult
	maxRunning int
}

func (p *recorder) StepChanged(ev calibration.StepEvent) {
	var running int
	if p.runner != nil {
		for _, st := range p.runner.Snapshot().Statuses {
			if st == calibration.StatusRunning {
				running++
			}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, ev)
	if running > p.maxRunning {
		p.maxRunning = running
	}
}

func (p *recorder) Advisory(ev calibration.Advisory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advisories = append(p.advisories, ev)
}

func (p *recorder) RunFinished(res calibration.RunResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
}

func newTestRunner(w calibration.Workflow, prov *fakeProvider, opts ...Option) (*StepRunner, *recorder) {
	rec := &recorder{}
	opts = append([]Option{WithPresenter(rec), WithInterStepPause(0)}, opts...)
	r := New(w, calibration.StepsFor(w), prov, opts...)
	rec.runner = r
	return r, rec
}

func statuses(ss ...calibration.Status) []calibration.Status { return ss }

const (
	P = calibration.StatusPass
	F = calibration.StatusFail
	N = calibration.StatusPending
)

func TestNewStartsPending(t *testing.T) {
	r, _ := newTestRunner(calibration.WorkflowInstall, &fakeProvider{})
	snap := r.Snapshot()
	assert.Equal(t, statuses(N, N, N, N), snap.Statuses)
	assert.False(t, snap.RunningAll)
	assert.Equal(t, -1, snap.Running())
}

func TestRunAllAllPass(t *testing.T) {
	prov := &fakeProvider{}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	require.NoError(t, r.RunAll(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, statuses(P, P, P, P), snap.Statuses)
	assert.False(t, r.IsRunningAll())
	assert.Equal(t, []int{0, 1, 2, 3}, prov.Calls())
	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Cancelled)
	assert.Equal(t, 4, rec.results[0].Passed())
	assert.Empty(t, rec.advisories)
	assert.LessOrEqual(t, rec.maxRunning, 1)
}

func TestRunAllContinuesPastFailure(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{1: true}}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	require.NoError(t, r.RunAll(context.Background()))

	assert.Equal(t, statuses(P, F, P, P), r.Snapshot().Statuses)
	require.Len(t, rec.advisories, 1)
	assert.Equal(t, calibration.AdvisoryStepFailed, rec.advisories[0].Kind)
	assert.Equal(t, 1, rec.advisories[0].Index)
	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Cancelled)
}

func TestRunAllHaltOnFail(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{1: true}}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov, WithHaltOnFail(true))

	require.NoError(t, r.RunAll(context.Background()))

	assert.Equal(t, statuses(P, F, N, N), r.Snapshot().Statuses)
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Cancelled)
	assert.Equal(t, calibration.ReasonHaltedOnFail, rec.results[0].Reason)
}

func TestRunAllVisitsStepsInOrder(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{0: true, 2: true}}
	r, rec := newTestRunner(calibration.WorkflowODS, prov)

	require.NoError(t, r.RunAll(context.Background()))

	var order []int
	for _, ev := range rec.steps {
		if ev.Status == calibration.StatusRunning {
			order = append(order, ev.Index)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	// Two notifications per step: running, then the verdict.
	require.Len(t, rec.steps, 8)
	for i := 0; i < 4; i++ {
		assert.Equal(t, calibration.StatusRunning, rec.steps[2*i].Status)
		assert.True(t, rec.steps[2*i+1].Status.IsTerminal())
		assert.Equal(t, i, rec.steps[2*i+1].Index)
	}
	assert.LessOrEqual(t, rec.maxRunning, 1)
}

func TestCancelDuringStep(t *testing.T) {
	release := make(chan struct{})
	prov := &fakeProvider{
		block:   map[int]chan struct{}{2: release},
		started: make(chan int, 4),
	}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	done := make(chan error, 1)
	go func() { done <- r.RunAll(context.Background()) }()

	for i := range 3 {
		require.Equal(t, i, <-prov.started)
	}
	assert.True(t, r.Cancel())
	st, err := r.Status(2)
	require.NoError(t, err)
	assert.Equal(t, calibration.StatusRunning, st, "step in flight keeps running after cancel")
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run-all did not stop after cancel")
	}

	assert.Equal(t, statuses(P, P, P, N), r.Snapshot().Statuses)
	assert.False(t, r.IsRunningAll())
	assert.Equal(t, []int{0, 1, 2}, prov.Calls())
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Cancelled)
}

func TestCancelKeepsPriorStatusOfUnreachedSteps(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{3: true}}
	r, _ := newTestRunner(calibration.WorkflowInstall, prov)
	require.NoError(t, r.RunAll(context.Background()))
	require.Equal(t, statuses(P, P, P, F), r.Snapshot().Statuses)

	release := make(chan struct{})
	prov.block = map[int]chan struct{}{0: release}
	prov.started = make(chan int, 4)
	prov.fail = map[int]bool{0: true}

	done := make(chan error, 1)
	go func() { done <- r.RunAll(context.Background()) }()
	require.Equal(t, 0, <-prov.started)
	r.Cancel()
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, statuses(F, P, P, F), r.Snapshot().Statuses)
}

func TestCancelWithoutRun(t *testing.T) {
	r, _ := newTestRunner(calibration.WorkflowInstall, &fakeProvider{})
	assert.False(t, r.Cancel())
}

func TestContextCancelStopsRunAll(t *testing.T) {
	prov := &fakeProvider{}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.RunAll(ctx))

	assert.Empty(t, prov.Calls())
	assert.Equal(t, statuses(N, N, N, N), r.Snapshot().Statuses)
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Cancelled)
}

func TestRunStepWhileAnotherRunning(t *testing.T) {
	release := make(chan struct{})
	prov := &fakeProvider{
		block:   map[int]chan struct{}{1: release},
		started: make(chan int, 1),
	}
	r, _ := newTestRunner(calibration.WorkflowInstall, prov)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.RunStep(context.Background(), 1)
	}()
	require.Equal(t, 1, <-prov.started)

	before := r.Snapshot().Statuses
	_, err := r.RunStep(context.Background(), 2)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, before, r.Snapshot().Statuses)
	assert.Equal(t, statuses(N, calibration.StatusRunning, N, N), before)

	assert.ErrorIs(t, r.RunAll(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, r.ResetAll(), ErrInvalidState)

	close(release)
	<-done
	assert.Equal(t, statuses(N, P, N, N), r.Snapshot().Statuses)
}

func TestRunAllRejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	prov := &fakeProvider{
		block:   map[int]chan struct{}{0: release},
		started: make(chan int, 4),
	}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	done := make(chan error, 1)
	go func() { done <- r.RunAll(context.Background()) }()
	<-prov.started

	assert.ErrorIs(t, r.RunAll(context.Background()), ErrInvalidState)
	_, err := r.RunStep(context.Background(), 3)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, r.ResetAll(), ErrInvalidState)

	close(release)
	for range 3 {
		<-prov.started
	}
	require.NoError(t, <-done)
	assert.Len(t, rec.results, 1)
}

func TestRunStepOutOfRange(t *testing.T) {
	r, rec := newTestRunner(calibration.WorkflowInstall, &fakeProvider{})
	for _, i := range []int{-1, 4} {
		_, err := r.RunStep(context.Background(), i)
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Empty(t, rec.steps)
}

func TestRunStepReturnsStoredStatus(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{2: true}}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	st, err := r.RunStep(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, F, st)

	snap := r.Snapshot()
	assert.Equal(t, F, snap.Statuses[2])
	assert.Equal(t, 2, snap.Cursor)
	require.Len(t, rec.steps, 2)
	assert.Equal(t, calibration.StatusRunning, rec.steps[0].Status)
	assert.Equal(t, F, rec.steps[1].Status)
	// Single-step runs never emit run-level notifications.
	assert.Empty(t, rec.results)
	assert.Empty(t, rec.advisories)
	// Install steps carry no sub-metric detail.
	assert.Empty(t, snap.Failures)
}

func TestResetAllThenRunAll(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{0: true, 3: true}}
	r, rec := newTestRunner(calibration.WorkflowODS, prov)
	require.NoError(t, r.RunAll(context.Background()))

	require.NoError(t, r.ResetAll())
	snap := r.Snapshot()
	assert.Equal(t, statuses(N, N, N, N), snap.Statuses)
	assert.Empty(t, snap.Failures)
	assert.Equal(t, 0, snap.Cursor)

	prov.fail = nil
	require.NoError(t, r.RunAll(context.Background()))
	snap = r.Snapshot()
	assert.True(t, snap.AllTerminal())
	assert.Len(t, snap.Statuses, 4)
	assert.Len(t, rec.results, 2)
}

func TestResetNotifiesChangedSteps(t *testing.T) {
	prov := &fakeProvider{}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)
	_, err := r.RunStep(context.Background(), 1)
	require.NoError(t, err)
	rec.steps = nil

	require.NoError(t, r.ResetAll())
	require.Len(t, rec.steps, 1)
	assert.Equal(t, 1, rec.steps[0].Index)
	assert.Equal(t, N, rec.steps[0].Status)
}

func TestODSFailureDetail(t *testing.T) {
	tests := []struct {
		name     string
		index    int
		reported []string
		want     []string
	}{
		{name: "reported sub-metrics are kept", index: 3, reported: []string{"wb"}, want: []string{"wb"}},
		{name: "empty report falls back to default", index: 2, want: []string{"fBright"}},
		{name: "fov default", index: 0, want: []string{"y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := &fakeProvider{
				fail:       map[int]bool{tt.index: true},
				submetrics: map[int][]string{tt.index: tt.reported},
			}
			r, _ := newTestRunner(calibration.WorkflowODS, prov)
			_, err := r.RunStep(context.Background(), tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Snapshot().Failures[tt.index])
		})
	}
}

func TestFailureDetailClearedOnPass(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{1: true}}
	r, _ := newTestRunner(calibration.WorkflowODS, prov)
	_, err := r.RunStep(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, r.Snapshot().Failures[1])

	prov.fail = nil
	st, err := r.RunStep(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, P, st)
	assert.Empty(t, r.Snapshot().Failures)
}

func TestProviderUnavailable(t *testing.T) {
	prov := &fakeProvider{errs: map[int]error{1: errors.New("instrument offline")}}
	r, rec := newTestRunner(calibration.WorkflowODS, prov)

	require.NoError(t, r.RunAll(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, statuses(P, F, P, P), snap.Statuses)
	assert.Equal(t, calibration.ReasonProviderUnavailable, snap.Reasons[1])
	assert.Equal(t, []string{"clarity"}, snap.Failures[1])

	var kinds []calibration.AdvisoryKind
	for _, a := range rec.advisories {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []calibration.AdvisoryKind{
		calibration.AdvisoryProviderUnavailable,
		calibration.AdvisoryStepFailed,
	}, kinds)
}

type badOutcomeProvider struct{}

func (badOutcomeProvider) Measure(context.Context, calibration.MeasureRequest) (calibration.Verdict, error) {
	return calibration.Verdict{Outcome: calibration.StatusRunning}, nil
}

func TestNonTerminalOutcomeFailsStep(t *testing.T) {
	r := New(calibration.WorkflowInstall, calibration.InstallSteps, badOutcomeProvider{})
	st, err := r.RunStep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, F, st)
	assert.Equal(t, calibration.ReasonProviderUnavailable, r.Snapshot().Reasons[0])
}

func TestInterStepPauseWakesOnCancel(t *testing.T) {
	prov := &fakeProvider{started: make(chan int, 4)}
	r, _ := newTestRunner(calibration.WorkflowInstall, prov, WithInterStepPause(time.Hour))

	done := make(chan error, 1)
	go func() { done <- r.RunAll(context.Background()) }()
	<-prov.started
	// Step 0 is running or already pausing; either way cancel must end the run.
	r.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pause did not wake on cancel")
	}
	assert.Equal(t, statuses(P, N, N, N), r.Snapshot().Statuses)
}

func TestStartAllRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	prov := &fakeProvider{
		block:   map[int]chan struct{}{0: release},
		started: make(chan int, 4),
	}
	r, rec := newTestRunner(calibration.WorkflowODS, prov)

	done, err := r.StartAll(context.Background())
	require.NoError(t, err)
	assert.True(t, r.IsRunningAll(), "session exists as soon as StartAll returns")

	_, err = r.StartAll(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)

	<-prov.started
	close(release)
	<-done
	assert.Equal(t, statuses(P, P, P, P), r.Snapshot().Statuses)
	require.Len(t, rec.results, 1)
}

func TestPolicyChangesApplyToNextRun(t *testing.T) {
	prov := &fakeProvider{fail: map[int]bool{0: true}}
	r, rec := newTestRunner(calibration.WorkflowInstall, prov)

	r.SetHaltOnFail(true)
	require.NoError(t, r.RunAll(context.Background()))
	assert.Equal(t, statuses(F, N, N, N), r.Snapshot().Statuses)

	r.SetHaltOnFail(false)
	require.NoError(t, r.RunAll(context.Background()))
	assert.Equal(t, statuses(F, P, P, P), r.Snapshot().Statuses)
	require.Len(t, rec.results, 2)
	assert.True(t, rec.results[0].Cancelled)
	assert.False(t, rec.results[1].Cancelled)
}

// slowPresenter holds up the terminal event of step 0 so that another step
// can start while it is being delivered.
type slowPresenter struct {
	nopPresenter
	mu       sync.Mutex
	seen     []calibration.StepEvent
	inFlight chan struct{}
}

func (p *slowPresenter) StepChanged(ev calibration.StepEvent) {
	if ev.Index == 0 && ev.Status.IsTerminal() {
		close(p.inFlight)
		time.Sleep(50 * time.Millisecond)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, ev)
}

func TestConcurrentStepsNotifyInOrder(t *testing.T) {
	pres := &slowPresenter{inFlight: make(chan struct{})}
	r := New(calibration.WorkflowInstall, calibration.StepsFor(calibration.WorkflowInstall), &fakeProvider{}, WithPresenter(pres))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.RunStep(context.Background(), 0)
		assert.NoError(t, err)
	}()

	select {
	case <-pres.inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("step 0 never finished")
	}
	st, err := r.RunStep(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, P, st)
	<-done

	pres.mu.Lock()
	defer pres.mu.Unlock()
	type seen struct {
		index  int
		status calibration.Status
	}
	var got []seen
	running := map[int]bool{}
	for _, ev := range pres.seen {
		got = append(got, seen{ev.Index, ev.Status})
		if ev.Status == calibration.StatusRunning {
			running[ev.Index] = true
		} else {
			delete(running, ev.Index)
		}
		assert.LessOrEqual(t, len(running), 1, "two steps running at once: %v", got)
	}
	assert.Equal(t, []seen{
		{0, calibration.StatusRunning},
		{0, P},
		{1, calibration.StatusRunning},
		{1, P},
	}, got)
}

func TestResetNotifiesAfterStepEvents(t *testing.T) {
	pres := &slowPresenter{inFlight: make(chan struct{})}
	r := New(calibration.WorkflowInstall, calibration.StepsFor(calibration.WorkflowInstall), &fakeProvider{}, WithPresenter(pres))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.RunStep(context.Background(), 0)
	}()
	<-pres.inFlight
	require.NoError(t, r.ResetAll())
	<-done

	pres.mu.Lock()
	defer pres.mu.Unlock()
	require.Len(t, pres.seen, 3)
	assert.Equal(t, P, pres.seen[1].Status)
	assert.Equal(t, N, pres.seen[2].Status, "pending must follow the pass it resets")
}
