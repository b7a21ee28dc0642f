package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/cli"
)

// Session flags
var (
	closeAll      bool
	sessionsPrune bool
)

func init() {
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(sessionsCmd)

	closeCmd.Flags().BoolVar(&closeAll, "all", false, "Close every open session")
	sessionsCmd.Flags().BoolVar(&sessionsPrune, "prune", false, "Forget sessions whose workspace no longer exists")
}

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Open a vault into a fresh workspace",
	Long: `Open the vault at <path>: extract it into a new workspace under the
workspaces root and register a session for it. Entries that would escape
the workspace are skipped.

Examples:
  vaultctl open ~/notes.vault
  vaultctl open ~/notes.vault --json | jq -r .handle.objects_dir`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := absPath(args[0])
		if err != nil {
			return err
		}
		s, err := a.sessions.Open(cmd.Context(), path)
		if err != nil {
			return describe("load", err)
		}
		if outputFormat(cmd) == cli.FormatJSON {
			return cli.WriteJSON(cmd.OutOrStdout(), s)
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close [id|glob...]",
	Short: "Close sessions and delete their workspaces",
	Long: `Close open sessions. Each argument is a session id or a glob over ids.

Examples:
  vaultctl close ws-1767225600000-3f2a9c1b7d4e
  vaultctl close 'ws-17672*'
  vaultctl close --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !closeAll {
			return errors.New("specify session ids or --all")
		}
		if len(args) > 0 && closeAll {
			return errors.New("--all cannot be combined with session ids")
		}

		ctx := cmd.Context()
		ids, err := a.registry.IDs(ctx)
		if err != nil {
			return err
		}
		if !closeAll {
			ids, err = cli.ExpandPatterns(args, ids)
			if err != nil {
				return err
			}
		}

		var closed []string
		var errs []error
		for _, id := range ids {
			if err := a.sessions.Close(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, describe("close", err)))
				continue
			}
			closed = append(closed, id)
		}

		out := cmd.OutOrStdout()
		if outputFormat(cmd) == cli.FormatJSON {
			if closed == nil {
				closed = []string{}
			}
			if err := cli.WriteJSON(out, map[string][]string{"closed": closed}); err != nil {
				return err
			}
		} else {
			for _, id := range closed {
				fmt.Fprintf(out, "Closed %s\n", id)
			}
			if len(ids) == 0 {
				fmt.Fprintln(out, "No open sessions")
			}
		}
		return errors.Join(errs...)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List open sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if sessionsPrune {
			pruned, err := a.sessions.Prune(ctx)
			if err != nil {
				return err
			}
			for _, id := range pruned {
				a.logger.Info("forgot stale session", "id", id)
			}
		}

		sessions, err := a.registry.List(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat(cmd) == cli.FormatJSON {
			if sessions == nil {
				return cli.WriteJSON(out, []any{})
			}
			return cli.WriteJSON(out, sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No open sessions")
			return nil
		}
		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{s.ID, s.OpenedAt.Local().Format(time.DateTime), s.Handle.Source, s.Handle.ObjectsDir})
		}
		return cli.Table(out, []string{"ID", "OPENED", "SOURCE", "USER FILES"}, rows)
	},
}
