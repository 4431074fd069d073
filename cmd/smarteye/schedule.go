package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage scheduled verification runs",
		Long: `Manage scheduled verification runs.

A verification run is an install run-all, followed by an ODS run-all when a standard recipe is selected. It is skipped while an operator is running steps.

The schedule command can be used in multiple ways:
  smarteye schedule 'minute hour day month weekday' Set schedule with cron expression
  smarteye schedule disable                         Disable the schedule
  smarteye schedule postpone [duration]             Postpone next run
  smarteye schedule skip                            Skip next run
  smarteye schedule show                            Show current schedule`,
		Example: `  smarteye schedule '0 7 * * 1-5' (At 07:00 on every weekday)
  smarteye schedule '30 6 * * *'  (At 06:30 every day)
  smarteye schedule '@every 4h'   (Every 4 hours)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable scheduled verification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleDisable(cmd)
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled verification run",
		Example: `  smarteye schedule postpone      (Postpone by 1 hour)
  smarteye schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled verification run by a specified duration.
If no duration is provided, defaults to 1 hour.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled verification run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleSkip(cmd)
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current verification schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	nextRuns, err := apiClient.Schedule(cronExpr)
	if err != nil {
		return err
	}
	if len(nextRuns) == 0 {
		cmd.Println("Verification schedule disabled.")
		return nil
	}
	cmd.Printf("Verification scheduled. Next %d run(s):\n", len(nextRuns))
	for _, run := range nextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.Schedule(""); err != nil {
		return err
	}
	cmd.Println("Verification schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, d time.Duration) error {
	st, err := apiClient.PostponeSchedule(d)
	if err != nil {
		return err
	}
	cmd.Printf("Next run postponed to %s.\n", st.NextRun.Local().Format(time.DateTime))
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	st, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	cmd.Printf("Next scheduled run skipped. Following run at %s.\n", st.NextRun.Local().Format(time.DateTime))
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if st.Cron == "" {
		cmd.Println("Verification schedule is not set.")
		return nil
	}
	cmd.Printf("Cron: %s\n", st.Cron)
	cmd.Printf("Next run: %s\n", st.NextRun.Local().Format(time.DateTime))
	if st.Running {
		cmd.Println("A verification run is in progress.")
	}
	return nil
}
