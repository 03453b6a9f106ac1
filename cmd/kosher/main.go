package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/koshercapital/kosher/cmd/kosher/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kosher",
		Short: "Kosher Capital community gateway CLI",
		Long: `kosher talks to a running kosherd gateway.

Sign in with a wallet key, check your access tier, manage staking positions
and read the token-gated community rooms.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&commands.APIEndpoint, "api", "", "Gateway base URL (default from config)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: json, plain")

	rootCmd.AddCommand(commands.NewVersionCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewLoginCmd())
	rootCmd.AddCommand(commands.NewLogoutCmd())
	rootCmd.AddCommand(commands.NewTierCmd())
	rootCmd.AddCommand(commands.NewRouteCmd())
	rootCmd.AddCommand(commands.NewStakingCmd())
	rootCmd.AddCommand(commands.NewPricesCmd())
	rootCmd.AddCommand(commands.NewTreasuryCmd())
	rootCmd.AddCommand(commands.NewHoldersCmd())
	rootCmd.AddCommand(commands.NewRoomsCmd())
	rootCmd.AddCommand(commands.NewUsernameCmd())
	rootCmd.AddCommand(commands.NewFundCmd())
	rootCmd.AddCommand(commands.NewAskCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewSecretsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, commands.StyleError.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
