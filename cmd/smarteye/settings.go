package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smarteye/smarteye/pkg/workbench"
)

func NewPageCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "page <home|install|ods>",
		Short:     "Switch the workbench page",
		Long:      `Switch the workbench page. Leaving a workflow page cancels its running run-all.`,
		GroupID:   gBasic,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(workbench.PageHome), string(workbench.PageInstall), string(workbench.PageODS)},
		RunE: func(_ *cobra.Command, args []string) error {
			page, err := workbench.ParsePage(args[0])
			if err != nil {
				return err
			}
			ret, err := apiClient.Navigate(page)
			if err != nil {
				return fmt.Errorf("failed to switch page: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func NewHaltOnFailCommand() *cobra.Command {
	return newEnableDisableCommand(
		"halt-on-fail",
		"halting run-all on the first failed step",
		`Halt run-all on the first failed step.

When disabled, run-all reports the failure and moves on to the next step.`,
		func() (string, error) { return apiClient.SetHaltOnFail(true) },
		func() (string, error) { return apiClient.SetHaltOnFail(false) },
	)
}

func NewInterStepPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "inter-step-pause [milliseconds]",
		Short:   "Set the pause between run-all steps",
		GroupID: gAdvanced,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ms, err := parseIntArg(args, "pause")
			if err != nil {
				return err
			}
			if ms < 0 {
				return fmt.Errorf("pause must not be negative, got %d", ms)
			}

			d := time.Duration(ms) * time.Millisecond
			ret, err := apiClient.SetInterStepPause(d)
			if err != nil {
				return fmt.Errorf("failed to set pause: %w", err)
			}
			logResponse(ret)
			logrus.Infof("successfully set pause between steps to %s", d)
			return nil
		},
	}
}
