package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newVariableCmd() *cobra.Command {
	var serverRef string

	cmd := &cobra.Command{
		Use:     "variable",
		Aliases: []string{"var"},
		Short:   "Manage global and server variable values",
	}
	cmd.PersistentFlags().StringVar(&serverRef, "server", "", "Server reference, empty for the global value")

	set := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Set a variable value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.serverID(serverRef)
				if err != nil {
					return err
				}
				if err := a.store.SetVariableValue(args[0], id, args[1]); err != nil {
					return err
				}
				printer().Success("%s set%s", args[0], scopeSuffix(serverRef))
				return nil
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print the value a server resolves, falling back to the global value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.serverID(serverRef)
				if err != nil {
					return err
				}
				values, err := a.resolver.Resolve(id, []string{args[0]})
				if err != nil {
					return err
				}
				v := values[args[0]]
				if v == nil {
					return fmt.Errorf("%s has no value%s", args[0], scopeSuffix(serverRef))
				}
				printer().Println(*v)
				return nil
			})
		},
	}

	unset := &cobra.Command{
		Use:   "unset <name>",
		Short: "Remove a variable value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.serverID(serverRef)
				if err != nil {
					return err
				}
				if err := a.store.UnsetVariableValue(args[0], id); err != nil {
					return err
				}
				printer().Success("%s unset%s", args[0], scopeSuffix(serverRef))
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List variable names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				vars, err := a.store.ListVariables()
				if err != nil {
					return err
				}
				for _, v := range vars {
					printer().Printf("- %s\n", v.Name)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(set, get, unset, list)
	return cmd
}

func scopeSuffix(serverRef string) string {
	if serverRef == "" {
		return " (global)"
	}
	return " for " + serverRef
}
