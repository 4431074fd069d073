package workbench

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/events"
	"github.com/smarteye/smarteye/pkg/params"
	"github.com/smarteye/smarteye/pkg/recipe"
	"github.com/smarteye/smarteye/pkg/runner"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrRecipeRequired  = errors.New("select a standard recipe first")
	ErrNotSupported    = errors.New("operation not supported by this workflow")
)

// Action names published as workbench.action events.
const (
	ActionPage           = "page"
	ActionRecipeSelected = "recipe.selected"
	ActionPointSwitched  = "point.switched"
	ActionParamSet       = "param.set"
	ActionMarkedPass     = "marked.pass"
	ActionSampleSaved    = "sample.saved"
	ActionConfigSaved    = "config.saved"
)

// ROIReadout is the gray level of the two brightness ROIs and their
// difference.
type ROIReadout struct {
	ROI1 float64 `json:"roi1"`
	ROI2 float64 `json:"roi2"`
	Diff float64 `json:"diff"`
}

var (
	installROI = ROIReadout{ROI1: 172.5, ROI2: 67.5, Diff: 105}
	odsROI     = ROIReadout{ROI1: 142, ROI2: 68.5, Diff: 73.5}
)

// View is what a presenter needs to render one workflow.
type View struct {
	calibration.Snapshot
	Recipe     string      `json:"recipe,omitempty"`
	Points     []string    `json:"points,omitempty"`
	PointIndex int         `json:"pointIndex"`
	ROI        *ROIReadout `json:"roi,omitempty"`
	// Panels are the parameter panels in step order.
	Panels []params.Panel `json:"panels,omitempty"`
}

// Point returns the current fixture point, or "".
func (v View) Point() string {
	if v.PointIndex < 0 || v.PointIndex >= len(v.Points) {
		return ""
	}
	return v.Points[v.PointIndex]
}

// Workbench is the state of one workflow page: its step runner, parameter
// panels and, for ODS, the selected standard recipe and fixture point.
type Workbench struct {
	workflow calibration.Workflow
	runner   *runner.StepRunner
	params   *params.Store
	catalog  *recipe.Catalog
	hub      *events.EventHub
	baseCtx  context.Context

	mu     sync.Mutex
	recipe *recipe.Recipe
	points []string
	point  int
	done   <-chan struct{}
}

// Workflow returns the workflow of this page.
func (w *Workbench) Workflow() calibration.Workflow { return w.workflow }

// Runner exposes the underlying step runner.
func (w *Workbench) Runner() *runner.StepRunner { return w.runner }

// CurrentPoint returns the fixture point being calibrated. Install has none.
func (w *Workbench) CurrentPoint() string {
	if w.workflow != calibration.WorkflowODS {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.point >= len(w.points) {
		return ""
	}
	return w.points[w.point]
}

// View returns what a presenter needs to render the workflow.
func (w *Workbench) View() View {
	v := View{Snapshot: w.runner.Snapshot(), Panels: w.params.Panels()}
	switch w.workflow {
	case calibration.WorkflowInstall:
		roi := installROI
		v.ROI = &roi
	case calibration.WorkflowODS:
		w.mu.Lock()
		if w.recipe != nil {
			v.Recipe = w.recipe.Name
			roi := odsROI
			v.ROI = &roi
		}
		v.Points = append([]string(nil), w.points...)
		v.PointIndex = w.point
		w.mu.Unlock()
	}
	return v
}

func (w *Workbench) requireRecipe() (recipe.Recipe, error) {
	if w.workflow != calibration.WorkflowODS {
		return recipe.Recipe{}, fmt.Errorf("%w: %s has no standard recipe", ErrNotSupported, w.workflow)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recipe == nil {
		return recipe.Recipe{}, ErrRecipeRequired
	}
	return *w.recipe, nil
}

func (w *Workbench) gate() error {
	if w.workflow == calibration.WorkflowODS {
		if _, err := w.requireRecipe(); err != nil {
			return err
		}
	}
	return nil
}

// RunStep runs one step and returns its verdict.
func (w *Workbench) RunStep(ctx context.Context, index int) (calibration.Status, error) {
	if err := w.gate(); err != nil {
		return "", err
	}
	return w.runner.RunStep(ctx, index)
}

// StartRunAll starts a run-all in the background. With reset, every step is
// put back to pending first, which is what confirming "auto debug all" does.
func (w *Workbench) StartRunAll(reset bool) error {
	if err := w.gate(); err != nil {
		return err
	}
	if reset {
		if err := w.runner.ResetAll(); err != nil {
			return err
		}
	}
	done, err := w.runner.StartAll(w.baseCtx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.done = done
	w.mu.Unlock()
	return nil
}

// Wait blocks until the background run-all, if any, has ended or ctx is done.
func (w *Workbench) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the running run-all, if any, before its next step.
func (w *Workbench) Cancel() bool {
	return w.runner.Cancel()
}

// Reset puts every step back to pending.
func (w *Workbench) Reset() error {
	return w.runner.ResetAll()
}

func (w *Workbench) stepIndex(stepID string) (int, error) {
	for _, s := range w.runner.Steps() {
		if s.ID == stepID {
			return s.Index, nil
		}
	}
	return -1, fmt.Errorf("%w: %s/%s", params.ErrUnknownStep, w.workflow, stepID)
}

// Params returns the panel of stepID with the fields highlighted by its
// current failure detail.
func (w *Workbench) Params(stepID string) (params.Panel, error) {
	idx, err := w.stepIndex(stepID)
	if err != nil {
		return params.Panel{}, err
	}
	p, err := w.params.Panel(stepID)
	if err != nil {
		return params.Panel{}, err
	}
	p.MarkFlagged(w.runner.Snapshot().Failures[idx])
	return p, nil
}

// SetParam edits one parameter. Edits are rejected while the step is running
// or a run-all is in progress.
func (w *Workbench) SetParam(stepID, key string, value any) error {
	idx, err := w.stepIndex(stepID)
	if err != nil {
		return err
	}
	if w.runner.IsRunningAll() {
		return fmt.Errorf("%w: cannot edit parameters during run-all", runner.ErrInvalidState)
	}
	st, err := w.runner.Status(idx)
	if err != nil {
		return err
	}
	if st == calibration.StatusRunning {
		return fmt.Errorf("%w: cannot edit parameters of running step %s", runner.ErrInvalidState, stepID)
	}
	if err := w.params.Set(stepID, key, value); err != nil {
		return err
	}
	w.action(ActionParamSet, fmt.Sprintf("%s.%s = %v", stepID, key, value))
	return nil
}

// SelectRecipe chooses the standard recipe ODS compares against. Switching to
// a different recipe resets every step and the parameter panels.
func (w *Workbench) SelectRecipe(name string) (recipe.Recipe, error) {
	if w.workflow != calibration.WorkflowODS {
		return recipe.Recipe{}, fmt.Errorf("%w: %s has no standard recipe", ErrNotSupported, w.workflow)
	}
	r, err := w.catalog.Get(name)
	if err != nil {
		return recipe.Recipe{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recipe != nil && w.recipe.Name == r.Name {
		return r, nil
	}
	if w.runner.Busy() {
		return recipe.Recipe{}, fmt.Errorf("%w: cannot change recipe while running", runner.ErrInvalidState)
	}
	if w.recipe != nil {
		if err := w.runner.ResetAll(); err != nil {
			return recipe.Recipe{}, err
		}
	}
	w.params.Reset()
	w.params.ApplyRefs(r.Refs)
	w.recipe = &r

	w.action(ActionRecipeSelected, r.Name)
	return r, nil
}

// SwitchPoint moves the fixture point cursor by delta. Moving resets every
// step. It is rejected at either end of the list and while running.
func (w *Workbench) SwitchPoint(delta int) (string, error) {
	if _, err := w.requireRecipe(); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.point + delta
	if n < 0 || n >= len(w.points) {
		return "", fmt.Errorf("%w: no fixture point at position %d of %d", runner.ErrInvalidState, n+1, len(w.points))
	}
	if n == w.point {
		return w.points[n], nil
	}
	if err := w.runner.ResetAll(); err != nil {
		return "", err
	}
	w.point = n

	w.action(ActionPointSwitched, w.points[n])
	return w.points[n], nil
}

// Compare returns the comparison rows of an ODS step against the selected
// recipe.
func (w *Workbench) Compare(stepID string) ([]recipe.Row, error) {
	r, err := w.requireRecipe()
	if err != nil {
		return nil, err
	}
	idx, err := w.stepIndex(stepID)
	if err != nil {
		return nil, err
	}
	snap := w.runner.Snapshot()
	return recipe.Compare(r, stepID, snap.Statuses[idx], snap.Failures[idx]), nil
}

// MarkPass acknowledges that the operator accepts the current point as is.
func (w *Workbench) MarkPass() (string, error) {
	return w.acknowledge(ActionMarkedPass, "marked as passed")
}

// SaveSample acknowledges saving the current point to the sample recipe.
func (w *Workbench) SaveSample() (string, error) {
	return w.acknowledge(ActionSampleSaved, "saved to sample recipe")
}

func (w *Workbench) acknowledge(action, msg string) (string, error) {
	if _, err := w.requireRecipe(); err != nil {
		return "", err
	}
	if w.runner.Busy() {
		return "", fmt.Errorf("%w: busy", runner.ErrInvalidState)
	}
	if p := w.CurrentPoint(); p != "" {
		msg = fmt.Sprintf("%s: %s", p, msg)
	}
	w.action(action, msg)
	return msg, nil
}

// Save acknowledges storing the install result as a machine config.
func (w *Workbench) Save(req recipe.SaveRequest) (recipe.SaveAck, error) {
	if w.workflow != calibration.WorkflowInstall {
		return recipe.SaveAck{}, fmt.Errorf("%w: only %s results can be saved as a config", ErrNotSupported, calibration.WorkflowInstall)
	}
	if w.runner.Busy() {
		return recipe.SaveAck{}, fmt.Errorf("%w: cannot save while running", runner.ErrInvalidState)
	}
	ack, err := recipe.ResolveSave(req)
	if err != nil {
		return recipe.SaveAck{}, err
	}
	w.action(ActionConfigSaved, ack.Message)
	return ack, nil
}

// setPoints replaces the fixture point list. The cursor goes back to the first
// point and steps are reset when the list changed.
func (w *Workbench) setPoints(points []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Equal(points, w.points) {
		return nil
	}
	if err := w.runner.ResetAll(); err != nil {
		return err
	}
	w.points = append([]string(nil), points...)
	w.point = 0
	return nil
}

func (w *Workbench) action(name, msg string) {
	logrus.WithFields(logrus.Fields{
		"workflow": w.workflow,
		"action":   name,
	}).Info(msg)
	w.hub.Publish(events.WorkbenchAction, events.WorkbenchActionEvent{
		Workflow: w.workflow,
		Action:   name,
		Message:  msg,
		Ts:       time.Now().Unix(),
	})
}

// presenter forwards runner notifications to the hub and offers to save the
// install result after a run-all that was not cancelled.
type presenter struct {
	events.Presenter
	workflow calibration.Workflow
}

func (p presenter) RunFinished(res calibration.RunResult) {
	p.Presenter.RunFinished(res)
	if p.workflow != calibration.WorkflowInstall || res.Cancelled {
		return
	}
	p.Presenter.Advisory(calibration.Advisory{
		Workflow:  p.workflow,
		SessionID: res.SessionID,
		Kind:      calibration.AdvisorySavePrompt,
		Index:     -1,
		Message:   fmt.Sprintf("run-all finished with %d/%d passed, save as machine config?", res.Passed(), len(res.Statuses)),
		Ts:        time.Now().Unix(),
	})
}
