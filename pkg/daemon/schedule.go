package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smarteye/smarteye/pkg/events"
)

const (
	ActionSchedule         = "schedule"
	ActionScheduleDisable  = "schedule.disabled"
	ActionSchedulePostpone = "schedule.postponed"
	ActionScheduleSkip     = "schedule.skipped"
	ActionVerifyUpcoming   = "verify.upcoming"
	ActionVerifyFailed     = "verify.failed"
	ActionVerifyFinished   = "verify.finished"
)

var errCalibrationBusy = errors.New("a calibration run is in progress")

// verify is the scheduled task: a fresh run-all of every workflow.
func (s *server) verify(ctx context.Context) error {
	logrus.Info("scheduled verification started")
	if err := s.ctrl.Verify(ctx); err != nil {
		return err
	}
	s.publishAction(ActionVerifyFinished, "Scheduled verification finished")
	logrus.Info("scheduled verification finished")
	return nil
}

// verifyPreCheck holds the scheduled run back while an operator is running
// steps.
func (s *server) verifyPreCheck(context.Context) error {
	if s.ctrl.Busy() {
		return errCalibrationBusy
	}
	return nil
}

func (s *server) verifyUpcoming(data any) {
	at, _ := data.(time.Time)
	s.publishAction(ActionVerifyUpcoming, fmt.Sprintf("Verification run starts at %s", at.Format("Jan _2 15:04")))
}

func (s *server) verifyFailed(data any) {
	err, _ := data.(error)
	logrus.WithError(err).Warn("scheduled verification failed")
	s.publishAction(ActionVerifyFailed, fmt.Sprintf("Scheduled verification: %v", err))
}

func (s *server) publishAction(action, msg string) {
	s.hub.Publish(events.WorkbenchAction, events.WorkbenchActionEvent{
		Action:  action,
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

// applySchedule points the scheduler at cronExpr. Empty disables it.
func (s *server) applySchedule(cronExpr string) error {
	if cronExpr == "" {
		s.sched.Unschedule()
		return nil
	}
	if err := s.sched.Schedule(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.sched.Start()
	return nil
}

// schedule sets and persists the verification cron expression and returns the
// next run times.
func (s *server) schedule(cronExpr string) ([]time.Time, error) {
	if cronExpr == "" {
		if s.conf.VerifyCron() == "" {
			// Already disabled
			return nil, nil
		}

		s.conf.SetVerifyCron("")
		if err := s.conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		_ = s.applySchedule("")
		s.publishAction(ActionScheduleDisable, "Verification schedule disabled")
		return nil, nil
	}

	nextRuns, err := ParseCron(cronExpr, time.Now(), 3)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	s.conf.SetVerifyCron(cronExpr)
	if err := s.conf.Save(); err != nil {
		logrus.WithError(err).Error("failed to save config")
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	if err := s.applySchedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule verification")
		return nil, err
	}

	s.publishAction(ActionSchedule, fmt.Sprintf("Verification scheduled at %s", nextRuns[0].Format("Jan _2 15:04")))
	return nextRuns, nil
}

func (s *server) postpone(d time.Duration) error {
	if err := s.sched.Postpone(d); err != nil {
		logrus.WithError(err).Error("failed to postpone verification")
		return err
	}
	s.publishAction(ActionSchedulePostpone, fmt.Sprintf("Verification postponed for %s", d.String()))
	return nil
}

func (s *server) skipNextSchedule() error {
	if err := s.sched.Skip(); err != nil {
		logrus.WithError(err).Error("failed to skip next verification")
		return err
	}
	s.publishAction(ActionScheduleSkip, "Next verification skipped")
	return nil
}
