package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/cli"
	"github.com/forest6511/vaultctl/pkg/session"
)

// Create/import flags
var (
	createNoOpen  bool
	importExclude []string
	importNoOpen  bool
)

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(importCmd)

	createCmd.Flags().BoolVar(&createNoOpen, "no-open", false, "Only create the vault file, do not open it")
	importCmd.Flags().StringSliceVarP(&importExclude, "exclude", "x", nil, "Glob of paths to leave out (repeatable)")
	importCmd.Flags().BoolVar(&importNoOpen, "no-open", false, "Only create the vault file, do not open it")
}

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a new empty vault and open it",
	Long: `Create a new empty vault at <path> and open it.

The vault is written to a hidden temporary file next to <path> and renamed
into place, so an existing file at <path> is replaced atomically.

Examples:
  vaultctl create ~/notes.vault
  vaultctl create --no-open ./empty.vault`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := absPath(args[0])
		if err != nil {
			return err
		}
		if err := a.vaults.Create(path); err != nil {
			return describe("create", err)
		}
		return openAfterCreate(cmd, path, createNoOpen)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <dir> <path>",
	Short: "Create a vault whose user files are copied from a directory",
	Long: `Create a new vault at <path> holding the files under <dir> as its user
files, then open it. Symlinks and special files are skipped.

Examples:
  vaultctl import ./project project.vault
  vaultctl import ./project project.vault --exclude '*.log' --exclude .git`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, err := cli.ExcludeFunc(importExclude)
		if err != nil {
			return err
		}
		path, err := absPath(args[1])
		if err != nil {
			return err
		}
		if err := a.vaults.Import(path, args[0], skip); err != nil {
			return describe("import", err)
		}
		return openAfterCreate(cmd, path, importNoOpen)
	},
}

// createResult is the JSON shape printed by create and import
type createResult struct {
	Path    string           `json:"path"`
	Session *session.Session `json:"session,omitempty"`
}

func openAfterCreate(cmd *cobra.Command, path string, noOpen bool) error {
	result := createResult{Path: path}
	if !noOpen {
		s, err := a.sessions.Open(cmd.Context(), path)
		if err != nil {
			return describe("load", err)
		}
		result.Session = s
	}

	out := cmd.OutOrStdout()
	if outputFormat(cmd) == cli.FormatJSON {
		return cli.WriteJSON(out, result)
	}
	fmt.Fprintf(out, "Created vault: %s\n", path)
	if result.Session != nil {
		printSession(out, result.Session)
	}
	return nil
}

func printSession(out io.Writer, s *session.Session) {
	fmt.Fprintf(out, "Opened session %s\n", s.ID)
	fmt.Fprintf(out, "  Source:     %s\n", s.Handle.Source)
	fmt.Fprintf(out, "  Workspace:  %s\n", s.Handle.Workspace)
	fmt.Fprintf(out, "  User files: %s\n", s.Handle.ObjectsDir)
	fmt.Fprintf(out, "  Opened at:  %s\n", s.OpenedAt.Local().Format(time.RFC3339))
}
