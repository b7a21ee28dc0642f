package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forest6511/vaultctl/internal/cli"
	"github.com/forest6511/vaultctl/internal/config"
	"github.com/forest6511/vaultctl/pkg/audit"
	"github.com/forest6511/vaultctl/pkg/session"
	"github.com/forest6511/vaultctl/pkg/vault"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Global flags
var (
	jsonOutput bool
	verbose    bool
)

// a holds the services built for the running command
var a *app

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "vaultctl creates, opens and closes vault containers",
	Long: `vaultctl manages vault containers: single zip files holding a manifest
and a user-files tree. Opening a vault extracts it into a private workspace;
closing it removes the workspace again.`,
	SilenceUsage: true,
	// PersistentPreRunE runs before every subcommand and builds the services
	// from the config in $VAULTCTL_HOME (default ~/.vaultctl).
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd || cmd == configInitCmd {
			return nil
		}
		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		source := audit.SourceCLI
		if cmd == mcpServerCmd {
			source = audit.SourceMCP
		}
		a, err = newApp(dataDir, source, cmd.ErrOrStderr())
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		err := a.Close()
		a = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON (default when stdout is not a terminal)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// app wires config, logging, audit, the vault service and the session registry.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	auditLog *audit.Logger
	vaults   *vault.Service
	registry *session.Registry
	sessions *session.Manager
}

func newApp(dataDir, source string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := log.NewWithOptions(stderr, log.Options{
		Prefix: "vaultctl",
		Level:  cfg.Level(),
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	appVersion := cfg.AppVersion
	if appVersion == "" {
		appVersion = "vaultctl " + version
	}
	opts := []vault.Option{vault.WithLogger(logger)}

	var auditLog *audit.Logger
	if cfg.Audit {
		auditLog, err = audit.Open(cfg.AuditDir(), cfg.AuditKeyPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		opts = append(opts, vault.WithAuditor(auditLog, source))
	}

	vaults := vault.New(vault.Config{
		AppVersion:     appVersion,
		SchemaVersion:  cfg.SchemaVersion,
		WorkspacesRoot: cfg.WorkspacesRoot,
	}, opts...)

	registry, err := session.Open(cfg.SessionsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open session registry: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		auditLog: auditLog,
		vaults:   vaults,
		registry: registry,
		sessions: session.NewManager(vaults, registry, logger),
	}, nil
}

// Close releases the session registry.
func (a *app) Close() error {
	return a.registry.Close()
}

// outputFormat returns text or json for cmd's stdout.
func outputFormat(cmd *cobra.Command) string {
	return cli.OutputFormat(jsonOutput, cmd.OutOrStdout())
}

// absPath resolves a user-supplied path.
func absPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}
	return abs, nil
}

// describe turns an internal error into the message shown to the user.
func describe(op string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("failed to %s vault: session not found", op)
	}
	return fmt.Errorf("failed to %s vault (%s): %w", op, vault.KindName(err), err)
}

// parseDuration parses a duration string with support for days (d), weeks (w),
// months (m, 30 days) and years (y) in addition to time.ParseDuration units.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	switch unit {
	case 'd', 'w', 'm', 'y':
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return 0, fmt.Errorf("invalid duration value: %s", valueStr)
		}
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
