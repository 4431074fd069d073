// Package workbench is the application state behind the calibration pages:
// which page is shown and, per workflow, the step runner with its parameter
// panels, standard recipe and fixture point.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/events"
	"github.com/smarteye/smarteye/pkg/measure"
	"github.com/smarteye/smarteye/pkg/params"
	"github.com/smarteye/smarteye/pkg/recipe"
	"github.com/smarteye/smarteye/pkg/runner"
)

type Page string

const (
	PageHome    Page = "home"
	PageInstall Page = "install"
	PageODS     Page = "ods"
)

func ParsePage(s string) (Page, error) {
	switch p := Page(s); p {
	case PageHome, PageInstall, PageODS:
		return p, nil
	}
	return "", fmt.Errorf("unknown page %q", s)
}

func (p Page) workflow() (calibration.Workflow, bool) {
	switch p {
	case PageInstall:
		return calibration.WorkflowInstall, true
	case PageODS:
		return calibration.WorkflowODS, true
	}
	return "", false
}

// Settings are the runtime knobs taken from the config file.
type Settings struct {
	InterStepPause time.Duration
	HaltOnFail     bool
	FixturePoints  []string
}

// Overview is the whole application state.
type Overview struct {
	Page    Page `json:"page"`
	Install View `json:"install"`
	ODS     View `json:"ods"`
}

// Controller owns one workbench per workflow and the current page.
type Controller struct {
	hub     *events.EventHub
	catalog *recipe.Catalog
	benches map[calibration.Workflow]*Workbench

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	page Page
}

// New builds both workbenches on top of provider. ODS requests are stamped
// with the current fixture point.
func New(provider runner.MeasurementProvider, catalog *recipe.Catalog, hub *events.EventHub, s Settings) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		hub:     hub,
		catalog: catalog,
		benches: make(map[calibration.Workflow]*Workbench, len(calibration.Workflows)),
		ctx:     ctx,
		cancel:  cancel,
		page:    PageHome,
	}

	if len(s.FixturePoints) == 0 {
		s.FixturePoints = calibration.DefaultFixturePoints
	}

	for _, w := range calibration.Workflows {
		wb := &Workbench{
			workflow: w,
			params:   params.NewStore(w),
			catalog:  catalog,
			hub:      hub,
			baseCtx:  ctx,
		}
		var p runner.MeasurementProvider = measure.Configured{Inner: provider, Settings: wb.params.Record}
		if w == calibration.WorkflowODS {
			wb.points = append([]string(nil), s.FixturePoints...)
			p = measure.Pointed{Inner: p, Point: wb.CurrentPoint}
		}
		wb.runner = runner.New(w, calibration.StepsFor(w), p,
			runner.WithPresenter(presenter{Presenter: events.Presenter{Hub: hub}, workflow: w}),
			runner.WithInterStepPause(s.InterStepPause),
			runner.WithHaltOnFail(s.HaltOnFail),
		)
		c.benches[w] = wb
	}
	return c
}

// Workbench returns the workbench of w.
func (c *Controller) Workbench(w calibration.Workflow) (*Workbench, error) {
	wb, ok := c.benches[w]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, w)
	}
	return wb, nil
}

// Lookup is Workbench for an unparsed workflow name.
func (c *Controller) Lookup(name string) (*Workbench, error) {
	return c.Workbench(calibration.Workflow(name))
}

func (c *Controller) Page() Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Navigate switches page. Leaving a workflow page cancels its run-all; the
// step in flight still completes.
func (c *Controller) Navigate(p Page) error {
	if _, err := ParsePage(string(p)); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.page
	c.page = p
	c.mu.Unlock()

	if prev == p {
		return nil
	}
	if w, ok := prev.workflow(); ok {
		if c.benches[w].Cancel() {
			logrus.WithField("workflow", w).Info("left page, run-all cancelled")
		}
	}

	c.hub.Publish(events.WorkbenchAction, events.WorkbenchActionEvent{
		Action:  ActionPage,
		Message: string(p),
		Ts:      time.Now().Unix(),
	})
	return nil
}

func (c *Controller) Overview() Overview {
	return Overview{
		Page:    c.Page(),
		Install: c.benches[calibration.WorkflowInstall].View(),
		ODS:     c.benches[calibration.WorkflowODS].View(),
	}
}

// Recipes lists the standard recipes available to ODS.
func (c *Controller) Recipes() []recipe.Recipe {
	return c.catalog.List()
}

// Busy reports whether any workflow has a step or run-all in progress.
func (c *Controller) Busy() bool {
	for _, wb := range c.benches {
		if wb.runner.Busy() {
			return true
		}
	}
	return false
}

// Apply pushes new settings to both runners. A changed fixture point list is
// only taken when ODS is idle.
func (c *Controller) Apply(s Settings) error {
	for _, wb := range c.benches {
		wb.runner.SetInterStepPause(s.InterStepPause)
		wb.runner.SetHaltOnFail(s.HaltOnFail)
	}
	if len(s.FixturePoints) == 0 {
		return nil
	}
	if err := c.benches[calibration.WorkflowODS].setPoints(s.FixturePoints); err != nil {
		return fmt.Errorf("failed to apply fixture points: %w", err)
	}
	return nil
}

// Verify resets and runs every workflow that can run, one after the other,
// and waits for each run-all to end. ODS is skipped until a recipe is
// selected.
func (c *Controller) Verify(ctx context.Context) error {
	var errs []error
	for _, w := range calibration.Workflows {
		wb := c.benches[w]
		err := wb.StartRunAll(true)
		if errors.Is(err, ErrRecipeRequired) {
			logrus.WithField("workflow", w).Info("verification skipped, no standard recipe selected")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w, err))
			continue
		}
		if err := wb.Wait(ctx); err != nil {
			wb.Cancel()
			return errors.Join(append(errs, err)...)
		}
	}
	return errors.Join(errs...)
}

// Shutdown cancels every run-all and waits for the loops to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	for _, w := range calibration.Workflows {
		wb := c.benches[w]
		wb.Cancel()
		if err := wb.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
