package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smarteye/smarteye/pkg/calibration"
	"github.com/smarteye/smarteye/pkg/params"
	"github.com/smarteye/smarteye/pkg/recipe"
)

// newWorkflowCommand builds the commands shared by both workflows.
func newWorkflowCommand(w calibration.Workflow, short, long, group string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     string(w),
		Short:   short,
		Long:    long,
		GroupID: group,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := apiClient.GetSteps(w)
			if err != nil {
				return err
			}
			printView(cmd, short, *v)
			return nil
		},
	}

	cmd.AddCommand(
		newRunStepCommand(w),
		newRunAllCommand(w),
		&cobra.Command{
			Use:   "cancel",
			Short: "Cancel the running run-all",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.Cancel(w)
				if err != nil {
					return fmt.Errorf("failed to cancel %s run-all: %w", w, err)
				}
				logResponse(ret)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Reset every step to pending",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.Reset(w)
				if err != nil {
					return fmt.Errorf("failed to reset %s steps: %w", w, err)
				}
				logResponse(ret)
				return nil
			},
		},
		newParamsCommand(w),
	)

	return cmd
}

func newRunStepCommand(w calibration.Workflow) *cobra.Command {
	ids := make([]string, 0)
	for _, s := range calibration.StepsFor(w) {
		ids = append(ids, s.ID)
	}

	return &cobra.Command{
		Use:       "run <step>",
		Short:     "Run a single step",
		Long:      fmt.Sprintf("Run a single %s step and wait for its verdict. The step is given by id (%s) or by its position starting at 1.", w, strings.Join(ids, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: ids,
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := parseStep(w, args[0])
			if err != nil {
				return err
			}

			res, err := apiClient.RunStep(w, step.Index)
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", step.ID, err)
			}

			cmd.Printf("%s: %s\n", step.Label, statusText(res.Status))
			if len(res.Failed) > 0 {
				cmd.Printf("  failed: %s\n", strings.Join(res.Failed, ", "))
				cmd.Printf("  adjust with `smarteye %s params set %s <key> <value>'\n", w, step.ID)
			}
			return nil
		},
	}
}

func newRunAllCommand(w calibration.Workflow) *cobra.Command {
	reset := false

	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Run every step in order in the background",
		Long: `Run every step in order in the background.

Steps already passed are kept unless --reset is given. Follow progress with "smarteye watch".`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.RunAll(w, reset)
			if err != nil {
				return fmt.Errorf("failed to start %s run-all: %w", w, err)
			}
			logResponse(ret)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Reset every step to pending before starting")

	return cmd
}

func newParamsCommand(w calibration.Workflow) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show or adjust step parameters",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <step>",
			Short: "Show the parameter panel of a step",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				step, err := parseStep(w, args[0])
				if err != nil {
					return err
				}
				p, err := apiClient.GetParams(w, step.ID)
				if err != nil {
					return err
				}
				printPanel(cmd, step, p)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <step> <key> <value>",
			Short: "Set one parameter of a step",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				step, err := parseStep(w, args[0])
				if err != nil {
					return err
				}
				p, err := apiClient.SetParam(w, step.ID, args[1], parseValue(args[2]))
				if err != nil {
					return fmt.Errorf("failed to set %s.%s: %w", step.ID, args[1], err)
				}
				logrus.Infof("successfully set %s.%s to %v", step.ID, args[1], p.Values[args[1]])
				return nil
			},
		},
	)

	return cmd
}

func printPanel(cmd *cobra.Command, step calibration.Step, p *params.Panel) {
	flagged := map[string]bool{}
	for _, k := range p.Flagged {
		flagged[k] = true
	}

	cmd.Println(bold("%s parameters:", step.Label))
	for _, f := range p.Fields {
		marker := " "
		if flagged[f.Key] {
			marker = "!"
		}
		line := fmt.Sprintf(" %s %-16s %-22s %v", marker, f.Key, f.Label, p.Values[f.Key])
		switch {
		case len(f.Options) > 0:
			line += fmt.Sprintf("  [%s]", strings.Join(f.Options, "|"))
		case f.Max > f.Min:
			line += fmt.Sprintf("  [%g..%g]", f.Min, f.Max)
		}
		if f.Ref != nil {
			line += fmt.Sprintf("  ref %g", *f.Ref)
		}
		cmd.Println(line)
	}
}

func NewInstallCommand() *cobra.Command {
	cmd := newWorkflowCommand(calibration.WorkflowInstall, "Install debugging",
		`Install debugging walks a freshly installed station through pose, clarity, brightness and chroma checks against the standard sample.`,
		gBasic)

	var name string
	asNew := false
	save := &cobra.Command{
		Use:   "save",
		Short: "Save the install result as a machine config",
		Long: fmt.Sprintf(`Save the install result as a machine config.

By default the current config (%s) is overwritten. With --new a new config is created, named %s unless --name is given.`, recipe.CurrentConfig, recipe.DefaultNewConfig),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := recipe.SaveRequest{Mode: recipe.SaveOverwrite}
			if asNew {
				req = recipe.SaveRequest{Mode: recipe.SaveNew, Name: name}
			}
			ack, err := apiClient.SaveConfig(req)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			cmd.Println(ack.Message)
			return nil
		},
	}
	save.Flags().BoolVar(&asNew, "new", false, "Save as a new config instead of overwriting")
	save.Flags().StringVar(&name, "name", "", "Name of the new config")

	cmd.AddCommand(save)
	return cmd
}

func NewODSCommand() *cobra.Command {
	w := calibration.WorkflowODS
	cmd := newWorkflowCommand(w, "ODS batch setup",
		`ODS batch setup compares each fixture point against a standard recipe. Select a recipe before running steps.`,
		gODS)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "recipes",
			Short: "List standard recipes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				rs, err := apiClient.ListRecipes()
				if err != nil {
					return err
				}
				for _, r := range rs {
					cmd.Printf("%-12s %s\n", bold("%s", r.Name), r.Description)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "recipe <name>",
			Short: "Select the standard recipe",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				r, err := apiClient.SelectRecipe(args[0])
				if err != nil {
					return fmt.Errorf("failed to select recipe: %w", err)
				}
				logrus.Infof("selected standard recipe %s", r.Name)
				return nil
			},
		},
		newPointCommand(),
		&cobra.Command{
			Use:   "compare <step>",
			Short: "Compare the current point against the standard recipe",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				step, err := parseStep(w, args[0])
				if err != nil {
					return err
				}
				rows, err := apiClient.Compare(step.ID)
				if err != nil {
					return err
				}
				printComparison(cmd, step, rows)
				return nil
			},
		},
		&cobra.Command{
			Use:   "mark-pass",
			Short: "Mark the current point as passed",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.MarkPass()
				if err != nil {
					return err
				}
				logResponse(ret)
				return nil
			},
		},
		&cobra.Command{
			Use:   "save-sample",
			Short: "Save the current readings to the sample recipe",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.SaveSample()
				if err != nil {
					return err
				}
				logResponse(ret)
				return nil
			},
		},
	)

	return cmd
}

func newPointCommand() *cobra.Command {
	move := func(delta int) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			res, err := apiClient.SwitchPoint(delta)
			if err != nil {
				return fmt.Errorf("failed to switch fixture point: %w", err)
			}
			cmd.Printf("Fixture point: %s (%d/%d)\n", bold("%s", res.Point), res.Index+1, res.Total)
			return nil
		}
	}

	cmd := &cobra.Command{
		Use:   "point",
		Short: "Move between fixture points",
	}
	cmd.AddCommand(
		&cobra.Command{Use: "next", Short: "Move to the next fixture point", Args: cobra.NoArgs, RunE: move(1)},
		&cobra.Command{Use: "prev", Short: "Move to the previous fixture point", Args: cobra.NoArgs, RunE: move(-1)},
	)
	return cmd
}

func printComparison(cmd *cobra.Command, step calibration.Step, rows []recipe.Row) {
	cmd.Println(bold("%s against standard:", step.Label))
	cmd.Printf("  %-20s %10s %10s %10s %10s\n", "metric", "std", "cur", "diff", "threshold")
	for _, r := range rows {
		label := r.Label
		if r.Unit != "" {
			label += " (" + r.Unit + ")"
		}
		cmd.Printf("  %-20s %10.2f %10.2f %10.2f %10.2f  %s\n", label, r.Std, r.Cur, r.Diff, r.Threshold, statusText(r.Verdict))
	}
}
