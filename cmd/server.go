package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Inspect servers, test connections and transfer files",
	}
	cmd.AddCommand(newServerListCmd())
	cmd.AddCommand(newServerTestCmd())
	cmd.AddCommand(newServerUploadCmd())
	cmd.AddCommand(newServerDownloadCmd())
	return cmd
}

func newServerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				servers, err := a.store.ListServers()
				if err != nil {
					return err
				}
				p := printer()
				for _, s := range servers {
					p.Printf("- %s (%s): %s@%s:%s sudo=%q partner=%q\n",
						s.Name, s.Reference, s.SSHUsername, s.Host(), s.Port(), s.UseSudo, s.Partner)
				}
				return nil
			})
		},
	}
}

func newServerTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <server-ref>",
		Short: "Connect to a server and run uname -a",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				srv, err := a.store.GetServer(args[0])
				if err != nil {
					return err
				}
				out, err := a.runner.TestConnection(ctx, srv)
				if err != nil {
					return err
				}
				printer().Success("%s: %s", srv.Reference, strings.TrimSpace(out))
				return nil
			})
		},
	}
}

func newServerUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <server-ref> <local-path> <remote-path>",
		Short: "Upload a file over SFTP, skipped when the remote copy is identical",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %v", args[1], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				srv, err := a.store.GetServer(args[0])
				if err != nil {
					return err
				}
				client, err := a.dialer.Client(ctx, srv)
				if err != nil {
					return err
				}
				defer client.Close()

				skipped, err := client.Upload(content, args[2])
				if err != nil {
					return err
				}
				if skipped {
					printer().Success("%s:%s is already up to date", srv.Reference, args[2])
				} else {
					printer().Success("Uploaded %d bytes to %s:%s", len(content), srv.Reference, args[2])
				}
				return nil
			})
		},
	}
}

func newServerDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <server-ref> <remote-path> <local-path>",
		Short: "Download a file over SFTP",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				srv, err := a.store.GetServer(args[0])
				if err != nil {
					return err
				}
				client, err := a.dialer.Client(ctx, srv)
				if err != nil {
					return err
				}
				defer client.Close()

				content, err := client.Download(args[1])
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[2], content, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %v", args[2], err)
				}
				printer().Success("Downloaded %d bytes from %s:%s", len(content), srv.Reference, args[1])
				return nil
			})
		},
	}
}
