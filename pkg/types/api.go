// Package types holds the request and response bodies shared between the
// daemon and its clients.
package types

import (
	"time"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// ParamUpdate sets one field of a step's parameter panel.
type ParamUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// StepResult is returned after running a single step.
type StepResult struct {
	Workflow calibration.Workflow `json:"workflow"`
	Index    int                  `json:"index"`
	StepID   string               `json:"stepId"`
	Status   calibration.Status   `json:"status"`
	// Failed lists the failed sub-metrics, if any.
	Failed []string `json:"failed,omitempty"`
}

// PointResult is the fixture point selected after a switch.
type PointResult struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Point string `json:"point"`
}

// ScheduleResult lists the upcoming verification runs. It is empty when the
// schedule was disabled.
type ScheduleResult struct {
	NextRuns []time.Time `json:"nextRuns"`
}

// ScheduleStatus describes the verification schedule. Cron is empty when no
// schedule is set.
type ScheduleStatus struct {
	Cron    string    `json:"cron"`
	NextRun time.Time `json:"nextRun"`
	Running bool      `json:"running"`
}
