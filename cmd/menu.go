package cmd

import (
	"context"
	"errors"
	"fmt"

	"flightplan/internal/flightplan"
	"flightplan/internal/types"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

const (
	menuDone = "✔️  Done"
	menuExit = "🚪 Exit"
)

func newMenuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Pick a plan and servers interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMenu(cmd.Context())
		},
	}
}

// runMenu loops over plan selection until the user exits or cancels.
func runMenu(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		p := printer()
		p.Failure("Failed to start: %v", err)
		p.Printf("💡 Run 'flightplan init' to create a default configuration\n")
		return err
	}
	defer a.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		plans, err := a.store.ListPlans()
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			printer().Warning("No plans stored yet, run 'flightplan catalog import' first")
			return nil
		}

		items := make([]string, 0, len(plans)+1)
		for _, p := range plans {
			items = append(items, fmt.Sprintf("▶️  %s (%s)", p.Name, p.Reference))
		}
		items = append(items, menuExit)

		prompt := promptui.Select{Label: "Select a flight plan", Items: items, Size: 10}
		idx, choice, err := runSelect(&prompt)
		if err != nil {
			return menuCancelled(err)
		}
		if choice == menuExit {
			return nil
		}

		plan := &plans[idx]
		servers, err := pickServers(a)
		if err != nil {
			return menuCancelled(err)
		}
		if len(servers) == 0 {
			printer().Warning("No servers selected")
			continue
		}

		printer().Printf("🚀 Running %s on %d server(s)\n", plan.Reference, len(servers))
		logs, err := a.engine.ExecuteMany(ctx, servers, plan, flightplan.Options{Label: "menu"})
		if err != nil {
			printer().Failure("Run failed: %v", err)
			continue
		}
		if err := reportPlanLogs(servers, plan, logs); err != nil {
			printer().Warning("%v", err)
		}
	}
}

// pickServers lets the user add servers one by one until Done is chosen.
func pickServers(a *app) ([]*types.Server, error) {
	all, err := a.store.ListServers()
	if err != nil {
		return nil, err
	}

	picked := map[int]bool{}
	for {
		items := []string{menuDone}
		var index []int
		for i, s := range all {
			if picked[i] {
				continue
			}
			items = append(items, fmt.Sprintf("🖥️  %s (%s)", s.Name, s.Reference))
			index = append(index, i)
		}
		if len(index) == 0 {
			break
		}

		prompt := promptui.Select{
			Label: fmt.Sprintf("Add a server (%d selected)", len(picked)),
			Items: items,
			Size:  10,
		}
		i, _, err := runSelect(&prompt)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			break
		}
		picked[index[i-1]] = true
	}

	out := make([]*types.Server, 0, len(picked))
	for i := range all {
		if picked[i] {
			out = append(out, &all[i])
		}
	}
	return out, nil
}

// runSelect keeps printer output off the terminal while the prompt owns it.
func runSelect(prompt *promptui.Select) (int, string, error) {
	p := printer()
	p.Suspend()
	defer p.Resume()
	return prompt.Run()
}

func menuCancelled(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return nil
	}
	return err
}
