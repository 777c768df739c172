package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/exorcist/internal/config"
	"github.com/zjrosen/exorcist/internal/paths"
)

func newConfigCmd(inv *invocation) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration exorcist would run with, after merging defaults,
the config file, EXORCIST_* environment variables and .env. Secrets are
omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := inv.loadConfig()
			defer cleanup()
			if err != nil {
				return err
			}

			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			if used := inv.v.ConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	var global bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented default config file",
		Long: `Write a commented default config file to path, to ./.exorcist.yaml, or with
--global to ~/.config/exorcist/config.yaml. An existing file is not
overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.LocalConfigFile
			switch {
			case len(args) == 1:
				path = args[0]
			case global:
				if path = paths.ConfigFile(); path == "" {
					return errors.New("cannot locate the home directory")
				}
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&global, "global", "g", false, "write the user config instead of a project config")

	configCmd.AddCommand(initCmd)
	return configCmd
}
