package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/koshercapital/kosher/internal/secrets"
)

func NewSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage daemon credentials in the system keyring",
		Long: `Stores the Telegram bot token and assistant API keys in the platform
keyring. Environment variables take precedence over stored values.`,
	}
	cmd.AddCommand(newSecretsListCmd())
	cmd.AddCommand(newSecretsSetCmd())
	cmd.AddCommand(newSecretsRemoveCmd())
	return cmd
}

func parseSecretName(s string) (secrets.Name, error) {
	n := secrets.Name(s)
	for _, known := range secrets.Known() {
		if n == known {
			return n, nil
		}
	}
	names := make([]string, 0, len(secrets.Known()))
	for _, k := range secrets.Known() {
		names = append(names, string(k))
	}
	return "", fmt.Errorf("unknown secret %q (one of: %s)", s, strings.Join(names, ", "))
}

func newSecretsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which credentials are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := secretResolver()
			rows := make([][]string, 0, len(secrets.Known()))
			for _, n := range secrets.Known() {
				state := "missing"
				if _, ok := r.Lookup(n); ok {
					state = "set"
				}
				rows = append(rows, []string{string(n), n.EnvVar(), state})
			}
			if jsonOutput() {
				return printJSON(rows)
			}
			fmt.Println(RenderTable([]string{"NAME", "ENV", "STATUS"}, rows))
			return nil
		},
	}
}

func newSecretsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a credential in the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseSecretName(args[0])
			if err != nil {
				return err
			}
			if !isTTY() {
				return errors.New("secrets set needs an interactive terminal")
			}

			var value string
			err = huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title(string(n)).
					EchoMode(huh.EchoModePassword).
					Value(&value).
					Validate(notBlank(string(n))),
			)).Run()
			if err != nil {
				return err
			}

			ring, backend, err := secrets.OpenKeyring()
			if err != nil {
				return err
			}
			if err := secrets.NewResolver(ring).Store(n, strings.TrimSpace(value)); err != nil {
				return err
			}
			fmt.Println(StyleSuccess.Render("Stored " + string(n) + " in " + backend))
			return nil
		},
	}
}

func newSecretsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a credential from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseSecretName(args[0])
			if err != nil {
				return err
			}
			ring, _, err := secrets.OpenKeyring()
			if err != nil {
				return err
			}
			if err := secrets.NewResolver(ring).Remove(n); err != nil {
				return err
			}
			fmt.Println(StyleSuccess.Render("Removed " + string(n)))
			return nil
		},
	}
}
