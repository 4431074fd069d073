package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// DefaultInterStepPause is the pause inserted after each step of a run-all.
const DefaultInterStepPause = 300 * time.Millisecond

// ErrInvalidState is returned when an operation is requested while its
// preconditions do not hold, e.g. a second run-all.
var ErrInvalidState = errors.New("invalid state")

// MeasurementProvider decides the verdict of a step. Measure must return
// exactly once per call; a fail verdict is not an error.
type MeasurementProvider interface {
	Measure(ctx context.Context, req calibration.MeasureRequest) (calibration.Verdict, error)
}

// Presenter observes a runner. Calls are made synchronously in the order the
// transitions happen, so implementations must not block.
type Presenter interface {
	StepChanged(ev calibration.StepEvent)
	Advisory(ev calibration.Advisory)
	RunFinished(res calibration.RunResult)
}

type nopPresenter struct{}

func (nopPresenter) StepChanged(calibration.StepEvent) {}
func (nopPresenter) Advisory(calibration.Advisory)     {}
func (nopPresenter) RunFinished(calibration.RunResult) {}

// Option configures a StepRunner.
type Option func(*StepRunner)

// WithPresenter sets the presenter notified about transitions.
func WithPresenter(p Presenter) Option {
	return func(r *StepRunner) {
		if p != nil {
			r.presenter = p
		}
	}
}

// WithInterStepPause overrides DefaultInterStepPause.
func WithInterStepPause(d time.Duration) Option {
	return func(r *StepRunner) { r.interStepPause = d }
}

// WithHaltOnFail makes run-all stop after the first failed step instead of
// continuing with the next one.
func WithHaltOnFail(halt bool) Option {
	return func(r *StepRunner) { r.haltOnFail = halt }
}

// session is the state of one run-all.
type session struct {
	id         string
	startedAt  time.Time
	cancelled  bool
	cancelCh   chan struct{}
	pause      time.Duration
	haltOnFail bool
}

// StepRunner sequences the steps of one workflow. At most one step is
// running at any time.
type StepRunner struct {
	workflow  calibration.Workflow
	steps     []calibration.Step
	provider  MeasurementProvider
	presenter Presenter

	mu             sync.Mutex
	interStepPause time.Duration
	haltOnFail     bool
	statuses       []calibration.Status
	failures       map[int][]string
	reasons        map[int]string
	cursor         int
	session        *session

	// Notifications are delivered in the order their tickets were taken
	// under mu, which is the order the transitions happened.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	ticketNext uint64
	ticketDone uint64
}

// New creates a runner with every step pending.
func New(workflow calibration.Workflow, steps []calibration.Step, provider MeasurementProvider, opts ...Option) *StepRunner {
	if provider == nil {
		panic("measurement provider cannot be nil")
	}

	r := &StepRunner{
		workflow:       workflow,
		steps:          append([]calibration.Step(nil), steps...),
		provider:       provider,
		presenter:      nopPresenter{},
		interStepPause: DefaultInterStepPause,
		statuses:       make([]calibration.Status, len(steps)),
		failures:       map[int][]string{},
		reasons:        map[int]string{},
	}
	r.notifyCond = sync.NewCond(&r.notifyMu)
	for i := range r.statuses {
		r.statuses[i] = calibration.StatusPending
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Workflow returns the workflow this runner sequences.
func (r *StepRunner) Workflow() calibration.Workflow { return r.workflow }

// Steps returns a copy of the step list.
func (r *StepRunner) Steps() []calibration.Step {
	return append([]calibration.Step(nil), r.steps...)
}

// RunStep runs a single step and returns its verdict. It fails with
// ErrInvalidState if index is out of range, another step is running or a
// run-all is in progress.
func (r *StepRunner) RunStep(ctx context.Context, index int) (calibration.Status, error) {
	return r.runStep(ctx, index, "")
}

// RunAll runs every step in ascending order. A failed step does not stop the
// loop unless the runner was built WithHaltOnFail. Cancel stops the loop
// before the next step starts; the step in flight always gets a verdict.
func (r *StepRunner) RunAll(ctx context.Context) error {
	sess, err := r.begin()
	if err != nil {
		return err
	}
	r.loop(ctx, sess)
	return nil
}

// StartAll is RunAll in the background. Rejections are returned
// synchronously; the returned channel is closed when the loop has ended and
// RunFinished was delivered.
func (r *StepRunner) StartAll(ctx context.Context) (<-chan struct{}, error) {
	sess, err := r.begin()
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.loop(ctx, sess)
	}()
	return done, nil
}

func (r *StepRunner) begin() (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return nil, fmt.Errorf("%w: run-all already in progress", ErrInvalidState)
	}
	if i := r.runningLocked(); i >= 0 {
		return nil, fmt.Errorf("%w: step %d is running", ErrInvalidState, i)
	}
	r.session = &session{
		id:         uuid.NewString(),
		startedAt:  time.Now(),
		cancelCh:   make(chan struct{}),
		pause:      r.interStepPause,
		haltOnFail: r.haltOnFail,
	}
	return r.session, nil
}

func (r *StepRunner) loop(ctx context.Context, sess *session) {
	log := logrus.WithFields(logrus.Fields{
		"workflow": r.workflow,
		"session":  sess.id,
	})
	log.Info("run-all started")

	res := calibration.RunResult{
		Workflow:  r.workflow,
		SessionID: sess.id,
		StartedAt: sess.startedAt,
	}

	for i, step := range r.steps {
		if r.cancelRequested(ctx, sess) {
			res.Cancelled = true
			res.Reason = calibration.ReasonCancelled
			log.WithField("index", i).Info("run-all cancelled before step")
			break
		}

		status, err := r.runStep(ctx, i, sess.id)
		if err != nil {
			// Only reachable if a caller bypassed the session guard.
			log.WithError(err).Error("run-all step rejected")
			res.Cancelled = true
			res.Reason = err.Error()
			break
		}

		if status == calibration.StatusFail {
			adv := calibration.Advisory{
				Workflow:  r.workflow,
				SessionID: sess.id,
				Kind:      calibration.AdvisoryStepFailed,
				Index:     i,
				StepID:    step.ID,
				Message:   fmt.Sprintf("%s did not pass, adjust manually", step.Label),
				Ts:        time.Now().Unix(),
			}
			r.mu.Lock()
			t := r.ticketLocked()
			r.mu.Unlock()
			r.deliver(t, func() { r.presenter.Advisory(adv) })
			if sess.haltOnFail {
				res.Cancelled = true
				res.Reason = calibration.ReasonHaltedOnFail
				log.WithField("index", i).Info("run-all halted on failed step")
				break
			}
		}

		r.pause(ctx, sess)
	}

	r.mu.Lock()
	r.session = nil
	res.Statuses = append([]calibration.Status(nil), r.statuses...)
	t := r.ticketLocked()
	r.mu.Unlock()
	res.Duration = time.Since(sess.startedAt)

	log.WithFields(logrus.Fields{
		"passed":    res.Passed(),
		"total":     len(res.Statuses),
		"cancelled": res.Cancelled,
	}).Info("run-all finished")
	r.deliver(t, func() { r.presenter.RunFinished(res) })
}

// SetInterStepPause changes the pause used by run-alls started afterwards.
func (r *StepRunner) SetInterStepPause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interStepPause = d
}

// SetHaltOnFail changes the failure policy of run-alls started afterwards.
func (r *StepRunner) SetHaltOnFail(halt bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haltOnFail = halt
}

// Cancel requests cancellation of the current run-all. It reports whether a
// run-all was in progress.
func (r *StepRunner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return false
	}
	if !r.session.cancelled {
		r.session.cancelled = true
		close(r.session.cancelCh)
	}
	return true
}

// ResetAll puts every step back to pending and clears failure details. It is
// rejected while a step or a run-all is in progress.
func (r *StepRunner) ResetAll() error {
	r.mu.Lock()
	if r.session != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot reset during run-all", ErrInvalidState)
	}
	if i := r.runningLocked(); i >= 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot reset while step %d is running", ErrInvalidState, i)
	}
	var changed []int
	for i, st := range r.statuses {
		if st != calibration.StatusPending {
			changed = append(changed, i)
		}
		r.statuses[i] = calibration.StatusPending
	}
	r.failures = map[int][]string{}
	r.reasons = map[int]string{}
	r.cursor = 0
	t := r.ticketLocked()
	r.mu.Unlock()

	now := time.Now().Unix()
	r.deliver(t, func() {
		for _, i := range changed {
			r.presenter.StepChanged(calibration.StepEvent{
				Workflow: r.workflow,
				Index:    i,
				StepID:   r.steps[i].ID,
				Status:   calibration.StatusPending,
				Ts:       now,
			})
		}
	})
	return nil
}

// IsRunningAll reports whether a run-all is in progress.
func (r *StepRunner) IsRunningAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Busy reports whether a run-all or a single step is in progress.
func (r *StepRunner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil || r.runningLocked() >= 0
}

// Status returns the status of step index.
func (r *StepRunner) Status(index int) (calibration.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.statuses) {
		return "", fmt.Errorf("%w: step index %d out of range", ErrInvalidState, index)
	}
	return r.statuses[index], nil
}

// Snapshot returns a copy of the runner state.
func (r *StepRunner) Snapshot() calibration.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := calibration.Snapshot{
		Workflow:   r.workflow,
		Steps:      append([]calibration.Step(nil), r.steps...),
		Statuses:   append([]calibration.Status(nil), r.statuses...),
		Cursor:     r.cursor,
		RunningAll: r.session != nil,
	}
	if r.session != nil {
		s.SessionID = r.session.id
	}
	if len(r.failures) > 0 {
		s.Failures = make(map[int][]string, len(r.failures))
		for i, f := range r.failures {
			s.Failures[i] = append([]string(nil), f...)
		}
	}
	if len(r.reasons) > 0 {
		s.Reasons = make(map[int]string, len(r.reasons))
		for i, reason := range r.reasons {
			s.Reasons[i] = reason
		}
	}
	return s
}

func (r *StepRunner) runStep(ctx context.Context, index int, sessionID string) (calibration.Status, error) {
	r.mu.Lock()
	if index < 0 || index >= len(r.steps) {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: step index %d out of range", ErrInvalidState, index)
	}
	if sessionID == "" && r.session != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: run-all in progress", ErrInvalidState)
	}
	if i := r.runningLocked(); i >= 0 {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: step %d is running", ErrInvalidState, i)
	}
	step := r.steps[index]
	r.statuses[index] = calibration.StatusRunning
	r.cursor = index
	delete(r.failures, index)
	delete(r.reasons, index)
	started := r.ticketLocked()
	r.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"workflow": r.workflow,
		"step":     step.ID,
		"index":    index,
	})
	if sessionID != "" {
		log = log.WithField("session", sessionID)
	}

	r.deliver(started, func() {
		r.presenter.StepChanged(calibration.StepEvent{
			Workflow:  r.workflow,
			SessionID: sessionID,
			Index:     index,
			StepID:    step.ID,
			Status:    calibration.StatusRunning,
			Ts:        time.Now().Unix(),
		})
	})
	log.Debug("measuring step")

	// The step in flight always gets a verdict, even if the caller goes away.
	verdict, err := r.provider.Measure(context.WithoutCancel(ctx), calibration.MeasureRequest{
		Workflow: r.workflow,
		Step:     step,
	})
	if err == nil && !verdict.Outcome.IsTerminal() {
		err = fmt.Errorf("provider returned non-terminal outcome %q", verdict.Outcome)
	}

	status := verdict.Outcome
	reason := ""
	var failed []string
	if err != nil {
		log.WithError(err).Warn("measurement provider unavailable, failing step")
		status = calibration.StatusFail
		reason = calibration.ReasonProviderUnavailable
	}
	if status == calibration.StatusFail {
		failed = failureDetail(r.workflow, step.ID, verdict.FailedSubmetrics, err != nil)
	}

	r.mu.Lock()
	r.statuses[index] = status
	if len(failed) > 0 {
		r.failures[index] = failed
	}
	if reason != "" {
		r.reasons[index] = reason
	}
	finished := r.ticketLocked()
	r.mu.Unlock()

	log.WithField("status", status).Info("step finished")

	r.deliver(finished, func() {
		if err != nil {
			r.presenter.Advisory(calibration.Advisory{
				Workflow:  r.workflow,
				SessionID: sessionID,
				Kind:      calibration.AdvisoryProviderUnavailable,
				Index:     index,
				StepID:    step.ID,
				Message:   fmt.Sprintf("measurement unavailable for %s: %v", step.Label, err),
				Ts:        time.Now().Unix(),
			})
		}
		r.presenter.StepChanged(calibration.StepEvent{
			Workflow:         r.workflow,
			SessionID:        sessionID,
			Index:            index,
			StepID:           step.ID,
			Status:           status,
			FailedSubmetrics: failed,
			Reason:           reason,
			Ts:               time.Now().Unix(),
		})
	})

	return status, nil
}

// failureDetail returns the sub-metrics attached to a failed step. Workflows
// without sub-metrics get none; otherwise the list is never empty.
func failureDetail(w calibration.Workflow, stepID string, reported []string, providerDown bool) []string {
	fallback := calibration.DefaultSubmetric(w, stepID)
	if fallback == "" {
		return nil
	}
	if providerDown || len(reported) == 0 {
		return []string{fallback}
	}
	return append([]string(nil), reported...)
}

// ticketLocked reserves the next delivery slot. Every ticket must be passed
// to deliver exactly once. r.mu must be held.
func (r *StepRunner) ticketLocked() uint64 {
	t := r.ticketNext
	r.ticketNext++
	return t
}

// deliver runs notify once every earlier ticket has been delivered. It does
// not hold r.mu, so presenters may read the runner.
func (r *StepRunner) deliver(ticket uint64, notify func()) {
	r.notifyMu.Lock()
	for r.ticketDone != ticket {
		r.notifyCond.Wait()
	}
	r.notifyMu.Unlock()

	defer func() {
		r.notifyMu.Lock()
		r.ticketDone++
		r.notifyCond.Broadcast()
		r.notifyMu.Unlock()
	}()
	notify()
}

func (r *StepRunner) runningLocked() int {
	for i, st := range r.statuses {
		if st == calibration.StatusRunning {
			return i
		}
	}
	return -1
}

func (r *StepRunner) cancelRequested(ctx context.Context, sess *session) bool {
	if ctx.Err() != nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.cancelled
}

func (r *StepRunner) pause(ctx context.Context, sess *session) {
	if sess.pause <= 0 {
		return
	}
	t := time.NewTimer(sess.pause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-sess.cancelCh:
	}
}
