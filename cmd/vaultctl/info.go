package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/cli"
	"github.com/forest6511/vaultctl/pkg/vault"
)

var infoWorkspaces bool

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVar(&infoWorkspaces, "workspaces", false, "Show the workspaces root and its free disk space instead")
}

// workspacesReport describes where vaults are extracted.
type workspacesReport struct {
	Root     string               `json:"root"`
	Sessions int                  `json:"sessions"`
	Disk     *vault.DiskSpaceInfo `json:"disk"`
}

var infoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Show a vault's manifest and entries without opening it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if infoWorkspaces {
			if len(args) > 0 {
				return errors.New("--workspaces takes no path")
			}
			return showWorkspaces(cmd)
		}
		if len(args) == 0 {
			return errors.New("path is required")
		}
		path, err := absPath(args[0])
		if err != nil {
			return err
		}
		info, err := a.vaults.Inspect(path)
		if err != nil {
			return describe("inspect", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat(cmd) == cli.FormatJSON {
			return cli.WriteJSON(out, info)
		}
		m := info.Manifest
		fmt.Fprintf(out, "Vault: %s (%d bytes)\n", info.Path, info.Size)
		fmt.Fprintf(out, "  Format version: %d\n", m.FormatVersion)
		fmt.Fprintf(out, "  Schema version: %d\n", m.SchemaVersion)
		fmt.Fprintf(out, "  Created by:     %s\n", m.CreatedBy)
		fmt.Fprintf(out, "  Created at:     %s\n", m.CreatedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(out, "  Updated at:     %s\n", m.UpdatedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(out, "  Entries (%d):\n", len(info.Entries))
		for _, name := range info.Entries {
			fmt.Fprintf(out, "    %s\n", name)
		}
		return nil
	},
}

func showWorkspaces(cmd *cobra.Command) error {
	disk, err := a.vaults.CheckDiskSpace()
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	ids, err := a.registry.IDs(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	report := workspacesReport{
		Root:     a.vaults.Config().WorkspacesRoot,
		Sessions: len(ids),
		Disk:     disk,
	}

	out := cmd.OutOrStdout()
	if outputFormat(cmd) == cli.FormatJSON {
		return cli.WriteJSON(out, report)
	}
	fmt.Fprintf(out, "Workspaces: %s\n", report.Root)
	fmt.Fprintf(out, "  Open sessions: %d\n", report.Sessions)
	fmt.Fprintf(out, "  Disk total:     %d bytes\n", disk.Total)
	fmt.Fprintf(out, "  Disk free:      %d bytes\n", disk.Free)
	fmt.Fprintf(out, "  Disk available: %d bytes\n", disk.Available)
	fmt.Fprintf(out, "  Disk used:      %d%%\n", disk.UsedPct)
	return nil
}
