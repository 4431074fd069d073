package calibration

import (
	"fmt"
	"time"
)

// Workflow identifies one of the guided calibration flows.
type Workflow string

const (
	// WorkflowInstall is the single-machine install debugging flow used to
	// build a standard sample machine.
	WorkflowInstall Workflow = "install"
	// WorkflowODS is the batch setup flow that compares each fixture point
	// against a standard recipe.
	WorkflowODS Workflow = "ods"
)

// Workflows lists every known workflow in display order.
var Workflows = []Workflow{WorkflowInstall, WorkflowODS}

// ParseWorkflow validates s as a workflow name.
func ParseWorkflow(s string) (Workflow, error) {
	switch w := Workflow(s); w {
	case WorkflowInstall, WorkflowODS:
		return w, nil
	}
	return "", fmt.Errorf("unknown workflow %q", s)
}

// Status is the state of a single step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
)

// IsTerminal reports whether s is a verdict (pass or fail).
func (s Status) IsTerminal() bool {
	return s == StatusPass || s == StatusFail
}

func (s Status) String() string { return string(s) }

// Reason codes attached to fail verdicts and cancelled runs.
const (
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonHaltedOnFail        = "halted_on_fail"
	ReasonCancelled           = "cancelled"
)

// Step is a static descriptor of one calibration stage.
type Step struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Index int    `json:"index"`
}

// MeasureRequest is what a measurement provider is asked to evaluate.
type MeasureRequest struct {
	Workflow Workflow `json:"workflow"`
	Step     Step     `json:"step"`
	// Point is the ODS fixture point being calibrated. Empty for install.
	Point string `json:"point,omitempty"`
	// Settings is the typed parameter record of the step, e.g. an
	// ODSWhiteBalance, as the operator left it.
	Settings any `json:"settings,omitempty"`
}

// Verdict is the result reported by a measurement provider for a step.
type Verdict struct {
	Outcome          Status   `json:"outcome"`
	FailedSubmetrics []string `json:"failedSubmetrics,omitempty"`
}

// Passed reports whether the verdict is a pass.
func (v Verdict) Passed() bool { return v.Outcome == StatusPass }

// Snapshot is a copy of a runner's state, suitable for JSON responses.
type Snapshot struct {
	Workflow   Workflow `json:"workflow"`
	Steps      []Step   `json:"steps"`
	Statuses   []Status `json:"statuses"`
	Cursor     int      `json:"cursor"`
	RunningAll bool     `json:"runningAll"`
	SessionID  string   `json:"sessionId,omitempty"`
	// Failures maps a failed step index to its failed sub-metric identifiers.
	Failures map[int][]string `json:"failures,omitempty"`
	// Reasons maps a failed step index to a reason code, if any.
	Reasons map[int]string `json:"reasons,omitempty"`
}

// Running returns the index of the running step, or -1.
func (s Snapshot) Running() int {
	for i, st := range s.Statuses {
		if st == StatusRunning {
			return i
		}
	}
	return -1
}

// AllTerminal reports whether every step has a verdict.
func (s Snapshot) AllTerminal() bool {
	for _, st := range s.Statuses {
		if !st.IsTerminal() {
			return false
		}
	}
	return len(s.Statuses) > 0
}

// StepEvent is emitted on every status transition of a step.
type StepEvent struct {
	Workflow         Workflow `json:"workflow"`
	SessionID        string   `json:"sessionId,omitempty"`
	Index            int      `json:"index"`
	StepID           string   `json:"stepId"`
	Status           Status   `json:"status"`
	FailedSubmetrics []string `json:"failedSubmetrics,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Ts               int64    `json:"ts"`
}

// AdvisoryKind classifies non-fatal notifications.
type AdvisoryKind string

const (
	AdvisoryStepFailed          AdvisoryKind = "step_failed"
	AdvisoryProviderUnavailable AdvisoryKind = "provider_unavailable"
	AdvisorySavePrompt          AdvisoryKind = "save_prompt"
)

// Advisory is a non-fatal notification meant for the operator.
type Advisory struct {
	Workflow  Workflow     `json:"workflow"`
	SessionID string       `json:"sessionId,omitempty"`
	Kind      AdvisoryKind `json:"kind"`
	Index     int          `json:"index"`
	StepID    string       `json:"stepId,omitempty"`
	Message   string       `json:"message"`
	Ts        int64        `json:"ts"`
}

// RunResult summarizes a finished or cancelled run-all.
type RunResult struct {
	Workflow  Workflow      `json:"workflow"`
	SessionID string        `json:"sessionId"`
	Statuses  []Status      `json:"statuses"`
	Cancelled bool          `json:"cancelled"`
	Reason    string        `json:"reason,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Passed counts pass verdicts in the result.
func (r RunResult) Passed() int {
	n := 0
	for _, s := range r.Statuses {
		if s == StatusPass {
			n++
		}
	}
	return n
}
