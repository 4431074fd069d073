package events

import (
	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// Presenter publishes step runner notifications to a hub. It never blocks.
type Presenter struct {
	Hub *EventHub
}

func (p Presenter) StepChanged(ev calibration.StepEvent) {
	logrus.WithFields(logrus.Fields{
		"event":    StepStatus,
		"workflow": ev.Workflow,
		"step":     ev.StepID,
		"status":   ev.Status,
	}).Debug("new event")
	p.Hub.Publish(StepStatus, ev)
}

func (p Presenter) Advisory(ev calibration.Advisory) {
	logrus.WithFields(logrus.Fields{
		"event":    RunAdvisory,
		"workflow": ev.Workflow,
		"kind":     ev.Kind,
	}).Debug("new event")
	p.Hub.Publish(RunAdvisory, ev)
}

func (p Presenter) RunFinished(res calibration.RunResult) {
	name := RunFinished
	if res.Cancelled {
		name = RunCancelled
	}
	logrus.WithFields(logrus.Fields{
		"event":    name,
		"workflow": res.Workflow,
		"session":  res.SessionID,
	}).Debug("new event")
	p.Hub.Publish(name, res)
}
