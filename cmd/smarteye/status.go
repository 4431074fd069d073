package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smarteye/smarteye/pkg/config"
	"github.com/smarteye/smarteye/pkg/types"
	"github.com/smarteye/smarteye/pkg/workbench"
)

type statusData struct {
	Overview *workbench.Overview   `json:"workbench"`
	Schedule *types.ScheduleStatus `json:"schedule"`
	Config   *config.RawFileConfig `json:"config"`
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	ov, err := apiClient.GetWorkbench()
	if err != nil {
		return nil, fmt.Errorf("failed to get workbench: %w", err)
	}

	sch, err := apiClient.GetSchedule()
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{Overview: ov, Schedule: sch, Config: conf}, nil
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of smarteye",
		Long:    `Get the workbench page, step statuses of both workflows, the verification schedule and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			cmd.Printf("Page: %s\n\n", bold("%s", data.Overview.Page))
			printView(cmd, "Install debugging", data.Overview.Install)
			printView(cmd, "ODS batch setup", data.Overview.ODS)

			cmd.Println(bold("Scheduled verification:"))
			if data.Schedule.Cron == "" {
				cmd.Println("  Not scheduled")
			} else {
				cmd.Printf("  Cron: %s\n", bold("%s", data.Schedule.Cron))
				if !data.Schedule.NextRun.IsZero() {
					cmd.Printf("  Next run: %s\n", bold("%s", data.Schedule.NextRun.Local().Format(time.DateTime)))
				}
			}
			cmd.Println()

			conf := config.NewFileFromConfig(data.Config, "")
			cmd.Println(bold("Configuration:"))
			if conf.InstrumentEndpoint() == "" {
				cmd.Printf("  Measurement: %s (pass rate install %.0f%%, ods %.0f%%)\n", bold("simulator"), conf.InstallPassRate()*100, conf.ODSPassRate()*100)
			} else {
				cmd.Printf("  Measurement: %s\n", bold("%s", conf.InstrumentEndpoint()))
			}
			cmd.Printf("  Pause between steps: %s\n", bold("%s", conf.InterStepPause()))
			cmd.Printf("  Halt run-all on failure: %s\n", bool2Text(conf.HaltOnFail()))
			cmd.Printf("  Fixture points: %s\n", strings.Join(conf.FixturePoints(), ", "))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func printView(cmd *cobra.Command, title string, v workbench.View) {
	header := title + ":"
	if v.RunningAll {
		header += " (run-all in progress)"
	}
	cmd.Println(bold("%s", header))
	if v.Recipe != "" || len(v.Points) > 0 {
		recipe := v.Recipe
		if recipe == "" {
			recipe = "none"
		}
		cmd.Printf("  Recipe: %s  Point: %s (%d/%d)\n", bold("%s", recipe), bold("%s", v.Point()), v.PointIndex+1, len(v.Points))
	}
	for i, step := range v.Steps {
		line := fmt.Sprintf("  %d. %-26s %s", i+1, step.Label, statusText(v.Statuses[i]))
		if failed := v.Failures[i]; len(failed) > 0 {
			line += " (" + strings.Join(failed, ", ") + ")"
		}
		cmd.Println(line)
	}
	cmd.Println()
}
