package cmd

import (
	"context"
	"fmt"

	"flightplan/internal/catalog"

	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Load servers, commands, plans, variables and keys from YAML",
	}
	cmd.AddCommand(newCatalogImportCmd())
	cmd.AddCommand(newCatalogValidateCmd())
	return cmd
}

func newCatalogImportCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import catalog files (default: catalog.files from the config)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				files := args
				if len(files) == 0 {
					files = a.cfg.Catalog.Files
				}
				if len(files) == 0 {
					return fmt.Errorf("no catalog files given and catalog.files is empty")
				}

				p := printer()
				sum, err := catalog.ImportFiles(a.store, files...)
				if err != nil {
					return err
				}
				p.Success("Imported %s", sum)

				if !watch {
					return nil
				}
				p.Printf("👀 Watching %d file(s) for changes, press Ctrl+C to stop\n", len(files))
				return catalog.Watch(ctx, a.store, files, catalog.DefaultDebounce, func(sum catalog.Summary, err error) {
					if err != nil {
						p.Failure("Re-import failed: %v", err)
						return
					}
					p.Success("Re-imported %s", sum)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Re-import whenever a file changes")
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file...>",
		Short: "Check catalog files without importing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.LoadFiles(args...)
			if err != nil {
				return err
			}
			if err := catalog.Validate(c); err != nil {
				return err
			}
			printer().Success("Catalog is valid: %d servers, %d commands, %d plans", len(c.Servers), len(c.Commands), len(c.Plans))
			return nil
		},
	}
}
