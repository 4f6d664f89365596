package cmd

import (
	"context"
	"fmt"
	"strings"

	"flightplan/internal/flightplan"
	"flightplan/internal/runner"
	"flightplan/internal/types"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a command or a flight plan on servers",
	}
	cmd.AddCommand(newRunCommandCmd())
	cmd.AddCommand(newRunPlanCmd())
	return cmd
}

// parseSudo maps the --sudo flag to a mode; "" keeps the server setting.
func parseSudo(v string) (*types.SudoMode, error) {
	var mode types.SudoMode
	switch strings.ToLower(v) {
	case "":
		return nil, nil
	case "none", "off":
		mode = types.SudoNone
	case "n", "nopass":
		mode = types.SudoNoPassword
	case "p", "pass":
		mode = types.SudoPassword
	default:
		return nil, fmt.Errorf("--sudo must be none, n or p, got %q", v)
	}
	return &mode, nil
}

func newRunCommandCmd() *cobra.Command {
	var (
		serverRefs []string
		path       string
		sudo       string
		label      string
		vars       map[string]string
	)

	cmd := &cobra.Command{
		Use:   "command <command-ref>",
		Short: "Run one command on every given server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sudoMode, err := parseSudo(sudo)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				command, err := a.store.GetCommand(args[0])
				if err != nil {
					return err
				}
				servers, err := a.servers(serverRefs)
				if err != nil {
					return err
				}

				// CLI overrides take precedence over stored variable values.
				bindings := map[string]interface{}{}
				for k, v := range vars {
					bindings[k] = v
				}

				logs, err := a.engine.RunCommand(ctx, servers, command, runner.Options{
					Path:     path,
					Sudo:     sudoMode,
					Label:    label,
					Bindings: bindings,
				})
				if err != nil {
					return err
				}
				return reportCommandLogs(servers, command, logs)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&serverRefs, "server", "s", nil, "Server reference (repeatable)")
	cmd.Flags().StringVar(&path, "path", "", "Working directory, overrides the command path")
	cmd.Flags().StringVar(&sudo, "sudo", "", "Sudo mode: none, n (no password) or p (with password)")
	cmd.Flags().StringVar(&label, "label", "", "Label stored on the command logs")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "Override variables (key=value)")
	return cmd
}

func reportCommandLogs(servers []*types.Server, command *types.Command, logs []*types.CommandLog) error {
	p := printer()
	failed := 0
	for i, log := range logs {
		srv := servers[i]
		if log == nil {
			failed++
			p.Failure("%s: %s was not run", srv.Reference, command.Reference)
			continue
		}
		if log.Status == types.StatusOK {
			p.Success("%s: %s finished in %.2fs", srv.Reference, command.Reference, log.Duration)
		} else {
			failed++
			p.Failure("%s: %s exited with %d", srv.Reference, command.Reference, log.Status)
		}
		if out := strings.TrimRight(log.Response, "\n"); out != "" {
			p.PrintBlock(indent(out), false)
		}
		if out := strings.TrimRight(log.Error, "\n"); out != "" && log.Status != types.StatusOK {
			p.PrintBlock(indent(out), false)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(logs))
	}
	return nil
}

func newRunPlanCmd() *cobra.Command {
	var (
		serverRefs []string
		label      string
		parallel   int
	)

	cmd := &cobra.Command{
		Use:   "plan <plan-ref>",
		Short: "Run a flight plan on every given server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				plan, err := a.store.GetPlan(args[0])
				if err != nil {
					return err
				}
				servers, err := a.servers(serverRefs)
				if err != nil {
					return err
				}
				if parallel > 0 {
					a.engine.SetMaxParallel(parallel)
				}

				logs, err := a.engine.ExecuteMany(ctx, servers, plan, flightplan.Options{Label: label})
				if err != nil {
					return err
				}
				return reportPlanLogs(servers, plan, logs)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&serverRefs, "server", "s", nil, "Server reference (repeatable)")
	cmd.Flags().StringVar(&label, "label", "", "Label stored on the plan and command logs")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Maximum servers at once (default: execution.max_parallel)")
	return cmd
}

func reportPlanLogs(servers []*types.Server, plan *types.Plan, logs []*types.PlanLog) error {
	p := printer()
	failed := 0
	for i, log := range logs {
		srv := servers[i]
		switch {
		case log == nil:
			failed++
			p.Failure("%s: %s was not run", srv.Reference, plan.Reference)
		case log.PlanStatus == types.StatusAnotherPlanRunning:
			failed++
			p.Warning("%s: %s is already running", srv.Reference, plan.Reference)
		case log.PlanStatus == types.StatusOK:
			p.Success("%s: %s finished in %.2fs (plan log %d)", srv.Reference, plan.Reference, log.Duration, log.ID)
		default:
			failed++
			p.Failure("%s: %s finished with status %d (plan log %d)", srv.Reference, plan.Reference, log.PlanStatus, log.ID)
		}
	}
	if len(logs) > 0 && logs[0] != nil {
		p.Printf("🔖 run id: %s\n", logs[0].RunID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plan runs failed", failed, len(logs))
	}
	return nil
}

func indent(s string) string {
	return "   " + strings.ReplaceAll(s, "\n", "\n   ") + "\n"
}
