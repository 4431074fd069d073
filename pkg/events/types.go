package events

import (
	"encoding/json"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// Event name constants
const (
	StepStatus      = "step.status"
	RunAdvisory     = "run.advisory"
	RunFinished     = "run.finished"
	RunCancelled    = "run.cancelled"
	WorkbenchAction = "workbench.action"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// StepStatusEvent is the typed payload for step.status.
type StepStatusEvent = calibration.StepEvent

// RunAdvisoryEvent is the typed payload for run.advisory.
type RunAdvisoryEvent = calibration.Advisory

// RunResultEvent is the typed payload for run.finished and run.cancelled.
type RunResultEvent = calibration.RunResult

// WorkbenchActionEvent is the typed payload for workbench.action. It reports
// operator actions that do not change step statuses, such as selecting a
// recipe or saving a config.
type WorkbenchActionEvent struct {
	Workflow calibration.Workflow `json:"workflow,omitempty"`
	Action   string               `json:"action"`
	Message  string               `json:"message,omitempty"`
	Ts       int64                `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StepStatusEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.StepID, payload.Status)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
