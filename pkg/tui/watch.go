package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/events"
	"github.com/smarteye/smarteye/pkg/workbench"
)

// maxLogLines is how many recent notices the watch view keeps.
const maxLogLines = 8

// Source is where the watch view gets its state from.
type Source interface {
	GetWorkbench() (*workbench.Overview, error)
	SubscribeEvents(ctx context.Context, handle func(events.Event)) error
}

// EventMsg carries one daemon event into the model.
type EventMsg events.Event

type streamEndedMsg struct{ err error }

// Model is the bubbletea model of the watch view.
type Model struct {
	overview workbench.Overview
	spinner  spinner.Model
	log      []string
	ended    error
	quitting bool
}

func NewModel(ov workbench.Overview) *Model {
	return &Model{
		overview: ov,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(purple)),
		),
	}
}

// Overview returns the state as currently known to the view.
func (m *Model) Overview() workbench.Overview { return m.overview }

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case EventMsg:
		if line := m.apply(events.Event(msg)); line != "" {
			m.notice(line)
		}
	case streamEndedMsg:
		m.ended = msg.err
		if msg.err != nil {
			m.notice(ErrorMsg("event stream ended: %v", msg.err))
		}
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) view(w calibration.Workflow) *workbench.View {
	switch w {
	case calibration.WorkflowInstall:
		return &m.overview.Install
	case calibration.WorkflowODS:
		return &m.overview.ODS
	}
	return nil
}

func (m *Model) notice(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// apply folds ev into the overview and returns a notice line, if any.
func (m *Model) apply(ev events.Event) string {
	switch ev.Name {
	case events.StepStatus:
		se, err := events.DecodeAs[events.StepStatusEvent](ev)
		if err != nil {
			return ""
		}
		v := m.view(se.Workflow)
		if v == nil || se.Index < 0 || se.Index >= len(v.Statuses) {
			return ""
		}
		v.Statuses[se.Index] = se.Status
		v.Cursor = se.Index
		if se.SessionID != "" {
			v.RunningAll = true
			v.SessionID = se.SessionID
		}
		if v.Failures == nil {
			v.Failures = map[int][]string{}
		}
		if len(se.FailedSubmetrics) > 0 {
			v.Failures[se.Index] = se.FailedSubmetrics
		} else {
			delete(v.Failures, se.Index)
		}
		return ""

	case events.RunAdvisory:
		adv, err := events.DecodeAs[events.RunAdvisoryEvent](ev)
		if err != nil {
			return ""
		}
		if adv.Kind == calibration.AdvisorySavePrompt {
			return InfoMsg("%s: %s", adv.Workflow, adv.Message)
		}
		return WarnMsg("%s: %s", adv.Workflow, adv.Message)

	case events.RunFinished, events.RunCancelled:
		res, err := events.DecodeAs[events.RunResultEvent](ev)
		if err != nil {
			return ""
		}
		if v := m.view(res.Workflow); v != nil {
			v.RunningAll = false
			v.SessionID = ""
		}
		if res.Cancelled {
			return WarnMsg("%s run-all cancelled (%s), %d/%d passed", res.Workflow, res.Reason, res.Passed(), len(res.Statuses))
		}
		if res.Passed() == len(res.Statuses) {
			return SuccessMsg("%s run-all finished, all %d steps passed", res.Workflow, len(res.Statuses))
		}
		return ErrorMsg("%s run-all finished, %d/%d passed", res.Workflow, res.Passed(), len(res.Statuses))

	case events.WorkbenchAction:
		act, err := events.DecodeAs[events.WorkbenchActionEvent](ev)
		if err != nil {
			return ""
		}
		switch act.Action {
		case workbench.ActionPage:
			m.overview.Page = workbench.Page(act.Message)
		case workbench.ActionRecipeSelected:
			m.overview.ODS.Recipe = act.Message
		case workbench.ActionPointSwitched:
			for i, p := range m.overview.ODS.Points {
				if p == act.Message {
					m.overview.ODS.PointIndex = i
				}
			}
		}
		if act.Workflow != "" {
			return InfoMsg("%s: %s %s", act.Workflow, act.Action, act.Message)
		}
		return InfoMsg("%s %s", act.Action, act.Message)
	}
	return ""
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("smarteye"))
	b.WriteString(MutedStyle.Render("  page: " + string(m.overview.Page)))
	b.WriteString("\n")

	panels := []string{
		m.renderWorkflow("Install debugging", m.overview.Install),
		m.renderWorkflow("ODS batch setup", m.overview.ODS),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")

	for _, l := range m.log {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString(MutedStyle.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderWorkflow(title string, v workbench.View) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(title))
	if v.RunningAll {
		b.WriteString(AccentStyle.Render("  run-all"))
	}
	b.WriteString("\n")
	if v.Workflow == calibration.WorkflowODS {
		recipe := v.Recipe
		if recipe == "" {
			recipe = "none"
		}
		b.WriteString(MutedStyle.Render(fmt.Sprintf("recipe %s  point %s (%d/%d)", recipe, v.Point(), v.PointIndex+1, len(v.Points))))
		b.WriteString("\n")
	}
	for i, step := range v.Steps {
		st := calibration.StatusPending
		if i < len(v.Statuses) {
			st = v.Statuses[i]
		}
		line := fmt.Sprintf("%d. %-24s %s", i+1, step.Label, Badge(st, m.spinner.View()))
		if failed := v.Failures[i]; len(failed) > 0 {
			line += MutedStyle.Render(" [" + strings.Join(failed, ", ") + "]")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return PanelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// Watch shows the workbench until the user quits, ctx ends or the event
// stream closes.
func Watch(ctx context.Context, src Source) error {
	ov, err := src.GetWorkbench()
	if err != nil {
		return err
	}

	m := NewModel(*ov)
	p := tea.NewProgram(m,
		tea.WithOutput(os.Stderr),
		tea.WithContext(ctx),
	)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := src.SubscribeEvents(streamCtx, func(ev events.Event) {
			p.Send(EventMsg(ev))
		})
		p.Send(streamEndedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("watch: %w", err)
	}
	return m.ended
}

// Follow prints one line per event until ctx ends or the stream closes. It is
// the watch output when stderr is not a terminal.
func Follow(ctx context.Context, src Source, out func(string)) error {
	ov, err := src.GetWorkbench()
	if err != nil {
		return err
	}
	m := NewModel(*ov)
	logrus.WithField("page", ov.Page).Debug("following daemon events")
	return src.SubscribeEvents(ctx, func(ev events.Event) {
		line := m.apply(ev)
		if line == "" && ev.Name == events.StepStatus {
			se, err := events.DecodeAs[events.StepStatusEvent](ev)
			if err != nil {
				return
			}
			line = fmt.Sprintf("%s %s/%s %s", time.Unix(se.Ts, 0).Format(time.TimeOnly), se.Workflow, se.StepID, se.Status)
		}
		if line != "" {
			out(line)
		}
	})
}
