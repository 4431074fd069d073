package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smarteye/smarteye/pkg/calibration"
)

// annotationNoDaemon marks commands that run without a daemon.
const annotationNoDaemon = "smarteye/no-daemon"

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

// parseStep resolves a step given by id or by its 1-based position in w.
func parseStep(w calibration.Workflow, arg string) (calibration.Step, error) {
	steps := calibration.StepsFor(w)
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(steps) {
			return calibration.Step{}, fmt.Errorf("%s has steps 1 to %d, got %d", w, len(steps), n)
		}
		return steps[n-1], nil
	}
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.ID == arg {
			return s, nil
		}
		ids = append(ids, s.ID)
	}
	return calibration.Step{}, fmt.Errorf("unknown %s step %q, expected one of: %s", w, arg, strings.Join(ids, ", "))
}

// parseValue turns a command-line parameter value into what the daemon
// expects: a number, a bool or else the raw string.
func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func logResponse(ret string) {
	if ret != "" {
		logrus.Infof("daemon responded: %s", ret)
	}
}

func newEnableDisableCommand(
	use, short, long string,
	enableFunc func() (string, error),
	disableFunc func() (string, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable " + short,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := enableFunc()
				if err != nil {
					return fmt.Errorf("failed to enable %s: %w", use, err)
				}
				logResponse(ret)
				logrus.Infof("successfully enabled %s", use)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable " + short,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := disableFunc()
				if err != nil {
					return fmt.Errorf("failed to disable %s: %w", use, err)
				}
				logResponse(ret)
				logrus.Infof("successfully disabled %s", use)
				return nil
			},
		},
	)

	return cmd
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func statusText(s calibration.Status) string {
	switch s {
	case calibration.StatusPass:
		return color.New(color.Bold, color.FgGreen).Sprint("pass")
	case calibration.StatusFail:
		return color.New(color.Bold, color.FgRed).Sprint("fail")
	case calibration.StatusRunning:
		return color.New(color.Bold, color.FgYellow).Sprint("running")
	}
	return color.New(color.Faint).Sprint("pending")
}
