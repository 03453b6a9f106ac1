package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/koshercapital/kosher/internal/config"
)

func NewConfigCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the gateway configuration",
	}
	cmd.PersistentFlags().StringVar(&path, "config", "", "Config file (default ~/.kosher/config.yaml)")

	resolve := func() string {
		if path != "" {
			return path
		}
		return config.DefaultConfigPath()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolve())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolve()
			if _, err := os.Stat(p); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", p)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg := config.DefaultConfig()
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			if err := cfg.Save(p); err != nil {
				return err
			}
			fmt.Println(StyleSuccess.Render("Wrote " + p))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(resolve()); err != nil {
				return err
			}
			fmt.Println(StyleSuccess.Render("Configuration is valid"))
			return nil
		},
	})

	return cmd
}
