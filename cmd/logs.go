package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"flightplan/internal/store"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var (
		serverRef string
		runID     string
		planLogID int64
		limit     int
	)

	filter := func(a *app) (store.LogFilter, error) {
		id, err := a.serverID(serverRef)
		if err != nil {
			return store.LogFilter{}, err
		}
		return store.LogFilter{ServerID: id, RunID: runID, PlanLogID: planLogID, Limit: limit}, nil
	}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show command and plan logs",
	}

	commands := &cobra.Command{
		Use:   "commands",
		Short: "List command logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				f, err := filter(a)
				if err != nil {
					return err
				}
				logs, err := a.store.ListCommandLogs(f)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSERVER\tCOMMAND\tPLAN LOG\tSTATUS\tSTARTED\tDURATION\tLABEL\tNOTE")
				for _, l := range logs {
					note := ""
					switch {
					case l.IsRunning:
						note = "running"
					case l.IsSkipped:
						note = "skipped"
					case l.Error != "":
						note = firstLine(l.Error)
					}
					fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%d\t%s\t%.2fs\t%s\t%s\n",
						l.ID, l.ServerID, l.CommandID, optionalID(l.PlanLogID), l.Status,
						l.StartDate.Format(time.DateTime), l.Duration, l.Label, note)
				}
				return w.Flush()
			})
		},
	}

	plans := &cobra.Command{
		Use:   "plans",
		Short: "List plan logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				f, err := filter(a)
				if err != nil {
					return err
				}
				logs, err := a.store.ListPlanLogs(f)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSERVER\tPLAN\tPARENT\tSTATUS\tSTARTED\tDURATION\tRUN ID\tLABEL")
				for _, l := range logs {
					status := fmt.Sprint(l.PlanStatus)
					if l.IsRunning {
						status = "running"
					}
					fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t%.2fs\t%s\t%s\n",
						l.ID, l.ServerID, l.PlanID, optionalID(l.ParentPlanLogID), status,
						l.StartDate.Format(time.DateTime), l.Duration, l.RunID, l.Label)
				}
				return w.Flush()
			})
		},
	}

	cmd.PersistentFlags().StringVar(&serverRef, "server", "", "Only logs of this server")
	cmd.PersistentFlags().StringVar(&runID, "run-id", "", "Only logs of this run")
	cmd.PersistentFlags().IntVar(&limit, "limit", 50, "Maximum rows, 0 for all")
	commands.Flags().Int64Var(&planLogID, "plan-log", 0, "Only command logs of this plan log")

	cmd.AddCommand(commands, plans)
	return cmd
}

func optionalID(id int64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
