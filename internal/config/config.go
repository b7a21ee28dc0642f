// Package config loads vaultctl settings from config.yaml in the data
// directory, with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the config file inside the data directory
const FileName = "config.yaml"

// Environment variables
const (
	EnvHome       = "VAULTCTL_HOME"
	EnvWorkspaces = "VAULTCTL_WORKSPACES"
	EnvLogLevel   = "VAULTCTL_LOG_LEVEL"
)

// Defaults
const (
	DefaultDirName       = ".vaultctl"
	DefaultWorkspacesDir = "vault-workspaces"
	DefaultSchemaVersion = 1
	DefaultLogLevel      = "warn"
	SessionsFileName     = "sessions.db"
	AuditDirName         = "audit"
	AuditKeyFileName     = "audit.key"
)

// ErrConfigInsecure is returned when the config file is writable by group or others
var ErrConfigInsecure = errors.New("config file is writable by other users")

// ErrConfigSymlink is returned when the config file is a symlink
var ErrConfigSymlink = errors.New("config file is a symlink")

// ErrConfigNotOwnedByUser is returned when the config file is not owned by current user
var ErrConfigNotOwnedByUser = errors.New("config file not owned by current user")

// Config holds vaultctl settings.
type Config struct {
	// AppVersion is recorded as created_by in new vaults. Empty means the binary version.
	AppVersion     string `yaml:"app_version" json:"app_version"`
	SchemaVersion  int    `yaml:"schema_version" json:"schema_version"`
	WorkspacesRoot string `yaml:"workspaces_root" json:"workspaces_root"`
	Audit          bool   `yaml:"audit" json:"audit"`
	LogLevel       string `yaml:"log_level" json:"log_level"`

	// DataDir is where the config was loaded from.
	DataDir string `yaml:"-" json:"data_dir"`
}

// DataDir returns $VAULTCTL_HOME, or ~/.vaultctl when unset.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Default returns the settings used when no config file exists.
func Default(dataDir string) *Config {
	return &Config{
		SchemaVersion:  DefaultSchemaVersion,
		WorkspacesRoot: filepath.Join(dataDir, DefaultWorkspacesDir),
		Audit:          true,
		LogLevel:       DefaultLogLevel,
		DataDir:        dataDir,
	}
}

// Load reads config.yaml from dataDir. A missing file yields the defaults.
// Fields absent from the file keep their default values. Environment
// overrides are applied last, then the result is validated.
func Load(dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	f, err := openConfigFile(filepath.Join(dataDir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		if err := cfg.read(f); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.WorkspacesRoot != "" && !filepath.IsAbs(cfg.WorkspacesRoot) {
		cfg.WorkspacesRoot = filepath.Join(dataDir, cfg.WorkspacesRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) read(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileSecurity(info); err != nil {
		return err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvWorkspaces); v != "" {
		c.WorkspacesRoot = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if c.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version: %d (must be >= 1)", c.SchemaVersion)
	}
	if c.WorkspacesRoot == "" {
		return errors.New("workspaces_root must not be empty")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.WarnLevel
	}
	return lvl
}

// SessionsPath returns the session registry database path.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.DataDir, SessionsFileName)
}

// AuditDir returns the audit log directory.
func (c *Config) AuditDir() string {
	return filepath.Join(c.DataDir, AuditDirName)
}

// AuditKeyPath returns the audit HMAC key file.
func (c *Config) AuditKeyPath() string {
	return filepath.Join(c.DataDir, AuditKeyFileName)
}

// Save writes the config to DataDir/config.yaml with mode 0600.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.DataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
