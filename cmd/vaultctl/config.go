package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/cli"
	"github.com/forest6511/vaultctl/internal/config"
)

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage config.yaml in the data directory",
}

// configInitCmd writes the default settings. It runs without the services
// because an unreadable config is one reason to rewrite it.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config.yaml holding the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dataDir, config.FileName)
		if !configForce {
			if _, err := os.Lstat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}
		}

		if err := config.Default(dataDir).Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if outputFormat(cmd) == cli.FormatJSON {
			return cli.WriteJSON(out, a.cfg)
		}
		return cli.Table(out, []string{"KEY", "VALUE"}, [][]string{
			{"data_dir", a.cfg.DataDir},
			{"workspaces_root", a.cfg.WorkspacesRoot},
			{"schema_version", fmt.Sprint(a.cfg.SchemaVersion)},
			{"app_version", a.cfg.AppVersion},
			{"audit", fmt.Sprint(a.cfg.Audit)},
			{"log_level", a.cfg.LogLevel},
		})
	},
}
