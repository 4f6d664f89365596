package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"flightplan/internal/secrets"
	"flightplan/internal/types"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage secrets and SSH keys",
	}
	cmd.AddCommand(newKeySetCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRefCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	return cmd
}

// readSecret reads a value without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read secret from stdin: %v", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newKeySetCmd() *cobra.Command {
	var (
		ref       string
		keyType   string
		serverRef string
		partner   string
		value     string
		valueFile string
		note      string
	)

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a key; the value is prompted for when not given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kt := types.KeyType(keyType)
			if kt != types.KeyTypeSecret && kt != types.KeyTypeSSH {
				return fmt.Errorf("--type must be s or k, got %q", keyType)
			}
			if kt == types.KeyTypeSSH && (serverRef != "" || partner != "") {
				return fmt.Errorf("SSH keys cannot be scoped to a server or partner")
			}

			switch {
			case valueFile != "":
				b, err := os.ReadFile(valueFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %v", valueFile, err)
				}
				value = string(b)
			case value == "":
				v, err := readSecret("Value: ")
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return fmt.Errorf("key value cannot be empty")
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.serverID(serverRef)
				if err != nil {
					return err
				}
				key := &types.Key{
					Name:        args[0],
					Reference:   ref,
					Type:        kt,
					SecretValue: value,
					ServerID:    id,
					Partner:     partner,
					Note:        note,
				}
				if key.Reference == "" {
					key.Reference = secrets.GenerateKeyReference(key.Name)
				}
				if err := a.store.UpsertKey(key); err != nil {
					return err
				}
				p := printer()
				p.Success("Saved key %s%s", key.Reference, keyScope(key))
				if inline := secrets.InlineReference(*key); inline != "" {
					p.Printf("   use it as %s\n", inline)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Reference (default: derived from the name)")
	cmd.Flags().StringVar(&keyType, "type", string(types.KeyTypeSecret), "Key type: s (secret) or k (SSH private key)")
	cmd.Flags().StringVar(&serverRef, "server", "", "Scope the secret to a server")
	cmd.Flags().StringVar(&partner, "partner", "", "Scope the secret to a partner")
	cmd.Flags().StringVar(&value, "value", "", "Secret value (prompted for when empty)")
	cmd.Flags().StringVar(&valueFile, "value-file", "", "Read the value from a file, e.g. a private key")
	cmd.Flags().StringVar(&note, "note", "", "Free text note")
	return cmd
}

func keyScope(k *types.Key) string {
	var parts []string
	if k.ServerRef != "" {
		parts = append(parts, "server "+k.ServerRef)
	} else if k.ServerID != 0 {
		parts = append(parts, fmt.Sprintf("server #%d", k.ServerID))
	}
	if k.Partner != "" {
		parts = append(parts, "partner "+k.Partner)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func newKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys without their values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				keys, err := a.store.ListKeys()
				if err != nil {
					return err
				}
				p := printer()
				for i := range keys {
					k := &keys[i]
					p.Printf("- [%s] %s (%s)%s\n", k.Type, k.Reference, k.Name, keyScope(k))
				}
				return nil
			})
		},
	}
}

func newKeyRefCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ref <name>",
		Short: "Print the inline placeholder for a secret name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := types.Key{
				Reference: secrets.GenerateKeyReference(args[0]),
				Type:      types.KeyTypeSecret,
			}
			printer().Println(secrets.InlineReference(key))
			return nil
		},
	}
}

func newKeyDeleteCmd() *cobra.Command {
	var (
		serverRef string
		partner   string
	)

	cmd := &cobra.Command{
		Use:   "delete <reference>",
		Short: "Delete the key stored for a reference and scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.serverID(serverRef)
				if err != nil {
					return err
				}
				if err := a.store.DeleteKey(args[0], id, partner); err != nil {
					return err
				}
				printer().Success("Deleted key %s", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&serverRef, "server", "", "Server scope")
	cmd.Flags().StringVar(&partner, "partner", "", "Partner scope")
	return cmd
}
