package tui

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/events"
	"github.com/smarteye/smarteye/pkg/workbench"
)

func overview() workbench.Overview {
	view := func(w calibration.Workflow) workbench.View {
		steps := calibration.StepsFor(w)
		statuses := make([]calibration.Status, len(steps))
		for i := range statuses {
			statuses[i] = calibration.StatusPending
		}
		return workbench.View{Snapshot: calibration.Snapshot{Workflow: w, Steps: steps, Statuses: statuses}}
	}
	ov := workbench.Overview{
		Page:    workbench.PageHome,
		Install: view(calibration.WorkflowInstall),
		ODS:     view(calibration.WorkflowODS),
	}
	ov.ODS.Points = append([]string(nil), calibration.DefaultFixturePoints...)
	return ov
}

func event(t *testing.T, name string, payload any) EventMsg {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return EventMsg(events.Event{Name: name, Data: b})
}

func TestModelFoldsEvents(t *testing.T) {
	m := NewModel(overview())

	m.Update(event(t, events.StepStatus, events.StepStatusEvent{Workflow: calibration.WorkflowODS, SessionID: "s1", Index: 3, StepID: "wb", Status: calibration.StatusRunning}))
	ov := m.Overview()
	assert.Equal(t, calibration.StatusRunning, ov.ODS.Statuses[3])
	assert.True(t, ov.ODS.RunningAll)
	assert.Contains(t, m.View(), "running")

	m.Update(event(t, events.StepStatus, events.StepStatusEvent{Workflow: calibration.WorkflowODS, SessionID: "s1", Index: 3, StepID: "wb", Status: calibration.StatusFail, FailedSubmetrics: []string{"gray", "wb"}}))
	m.Update(event(t, events.RunFinished, events.RunResultEvent{Workflow: calibration.WorkflowODS, SessionID: "s1", Statuses: []calibration.Status{"pass", "pass", "pass", "fail"}}))

	ov = m.Overview()
	assert.Equal(t, calibration.StatusFail, ov.ODS.Statuses[3])
	assert.Equal(t, []string{"gray", "wb"}, ov.ODS.Failures[3])
	assert.False(t, ov.ODS.RunningAll)

	out := m.View()
	assert.Contains(t, out, "gray, wb")
	assert.Contains(t, out, "3/4 passed")
}

func TestModelActions(t *testing.T) {
	m := NewModel(overview())

	m.Update(event(t, events.WorkbenchAction, events.WorkbenchActionEvent{Action: workbench.ActionPage, Message: "ods"}))
	m.Update(event(t, events.WorkbenchAction, events.WorkbenchActionEvent{Workflow: calibration.WorkflowODS, Action: workbench.ActionRecipeSelected, Message: "A"}))
	m.Update(event(t, events.WorkbenchAction, events.WorkbenchActionEvent{Workflow: calibration.WorkflowODS, Action: workbench.ActionPointSwitched, Message: calibration.DefaultFixturePoints[2]}))

	ov := m.Overview()
	assert.Equal(t, workbench.PageODS, ov.Page)
	assert.Equal(t, "A", ov.ODS.Recipe)
	assert.Equal(t, 2, ov.ODS.PointIndex)
	assert.Contains(t, m.View(), "recipe A")
}

func TestModelIgnoresBadEvents(t *testing.T) {
	m := NewModel(overview())
	m.Update(EventMsg(events.Event{Name: events.StepStatus, Data: []byte("{")}))
	m.Update(event(t, events.StepStatus, events.StepStatusEvent{Workflow: calibration.WorkflowInstall, Index: 42}))
	m.Update(event(t, events.StepStatus, events.StepStatusEvent{Workflow: "other", Index: 0}))
	assert.Equal(t, overview(), m.Overview())
}

func TestModelLogIsBounded(t *testing.T) {
	m := NewModel(overview())
	for range maxLogLines + 5 {
		m.Update(event(t, events.RunAdvisory, events.RunAdvisoryEvent{Workflow: calibration.WorkflowInstall, Message: "clarity did not pass"}))
	}
	assert.Len(t, m.log, maxLogLines)
}

func TestModelQuits(t *testing.T) {
	m := NewModel(overview())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())

	m = NewModel(overview())
	_, cmd = m.Update(streamEndedMsg{err: errors.New("eof")})
	require.NotNil(t, cmd)
	assert.Error(t, m.ended)
}

type fakeSource struct {
	ov     workbench.Overview
	events []events.Event
}

func (f *fakeSource) GetWorkbench() (*workbench.Overview, error) {
	ov := f.ov
	return &ov, nil
}

func (f *fakeSource) SubscribeEvents(_ context.Context, handle func(events.Event)) error {
	for _, ev := range f.events {
		handle(ev)
	}
	return nil
}

func TestFollow(t *testing.T) {
	src := &fakeSource{ov: overview(), events: []events.Event{
		events.Event(event(t, events.StepStatus, events.StepStatusEvent{Workflow: calibration.WorkflowInstall, Index: 0, StepID: "pose", Status: calibration.StatusPass, Ts: 1})),
		events.Event(event(t, events.RunAdvisory, events.RunAdvisoryEvent{Workflow: calibration.WorkflowInstall, Kind: calibration.AdvisorySavePrompt, Message: "save?"})),
	}}

	var lines []string
	require.NoError(t, Follow(context.Background(), src, func(s string) { lines = append(lines, s) }))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "install/pose pass")
	assert.Contains(t, lines[1], "save?")
}
