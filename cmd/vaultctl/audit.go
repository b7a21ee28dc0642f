package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/cli"
	"github.com/forest6511/vaultctl/pkg/audit"
)

// Audit flags
var (
	auditLimit int
	auditSince string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// verifyOutput is the JSON form of audit verify.
type verifyOutput struct {
	Log string `json:"log"`
	*audit.VerifyResult
}

// requireAudit returns the audit logger or an error when auditing is off
func requireAudit() (*audit.Logger, error) {
	if a.auditLog == nil {
		return nil, errors.New("audit logging is disabled (set audit: true in config.yaml)")
	}
	return a.auditLog, nil
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := requireAudit()
		if err != nil {
			return err
		}

		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		events, err := l.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat(cmd) == cli.FormatJSON {
			if events == nil {
				events = []audit.AuditEvent{}
			}
			return cli.WriteJSON(out, events)
		}
		fmt.Fprintf(out, "Audit log: %s\n\n", l.Path())
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		// Format: TIMESTAMP OPERATION SOURCE RESULT TARGET [error:CODE]
		for _, event := range events {
			line := fmt.Sprintf("%s %s %s %s %s", event.Timestamp, event.Operation, event.Source, event.Result, event.Target)
			if event.Error != nil {
				line += fmt.Sprintf(" error:%s", event.Error.Code)
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
		return nil
	},
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := requireAudit()
		if err != nil {
			return err
		}

		result, err := l.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputFormat(cmd) == cli.FormatJSON {
			if err := cli.WriteJSON(out, verifyOutput{Log: l.Path(), VerifyResult: result}); err != nil {
				return err
			}
		} else if result.Valid {
			fmt.Fprintf(out, "✓ Audit log verified: %d records, chain intact\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Log: %s\n", l.Path())
		} else {
			fmt.Fprintf(out, "✗ Audit log verification FAILED\n")
			fmt.Fprintf(out, "  Log: %s\n", l.Path())
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
		}

		if !result.Valid {
			return errors.New("audit log integrity check failed")
		}
		return nil
	},
}
