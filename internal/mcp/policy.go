package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy restricts which vault paths MCP clients may create or load.
type Policy struct {
	Version       int      `yaml:"version"`
	DefaultAction string   `yaml:"default_action"`
	DeniedPaths   []string `yaml:"denied_paths"`
	AllowedPaths  []string `yaml:"allowed_paths"`
	AllowCreate   *bool    `yaml:"allow_create"`
}

// PolicyFileName is the name of the policy file
const PolicyFileName = "mcp-policy.yaml"

// Policy action constants
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("MCP policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("MCP policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("MCP policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("MCP policy file not owned by current user")

// OpenPolicy is used when no policy file exists: every path is allowed.
func OpenPolicy() *Policy {
	return &Policy{Version: 1, DefaultAction: ActionAllow}
}

// LoadPolicy loads the MCP policy from the data directory.
// The file is opened without following symlinks and must be 0600 and owned
// by the current user.
func LoadPolicy(dataDir string) (*Policy, error) {
	f, err := openPolicyFile(filepath.Join(dataDir, PolicyFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}
	if err := checkFileSecurity(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	// Default to deny if not specified
	if policy.DefaultAction == "" {
		policy.DefaultAction = ActionDeny
	}

	if err := policy.ValidatePolicy(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// ValidatePolicy validates the policy configuration
func (p *Policy) ValidatePolicy() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d", p.Version)
	}
	if p.DefaultAction != ActionDeny && p.DefaultAction != ActionAllow {
		return fmt.Errorf("invalid default_action: %s (must be '%s' or '%s')", p.DefaultAction, ActionDeny, ActionAllow)
	}
	for _, pattern := range append(append([]string{}, p.DeniedPaths...), p.AllowedPaths...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid path pattern '%s': %w", pattern, err)
		}
	}
	return nil
}

// IsPathAllowed checks if an absolute vault path may be used.
// Evaluation order:
// 1. denied_paths → deny
// 2. allowed_paths → allow
// 3. default_action
func (p *Policy) IsPathAllowed(path string) (allowed bool, reason string) {
	path = filepath.Clean(path)

	for _, denied := range p.DeniedPaths {
		if matchPath(path, denied) {
			return false, fmt.Sprintf("path '%s' matches denied pattern '%s'", path, denied)
		}
	}

	for _, allowed := range p.AllowedPaths {
		if matchPath(path, allowed) {
			return true, ""
		}
	}

	if p.DefaultAction == ActionAllow {
		return true, ""
	}
	return false, fmt.Sprintf("path '%s' not in allowed_paths list", path)
}

// CanCreate reports whether vault_create is enabled.
func (p *Policy) CanCreate() bool {
	return p.AllowCreate == nil || *p.AllowCreate
}

// matchPath matches a glob against the path, or treats a pattern without
// glob characters as a directory that contains the path.
func matchPath(path, pattern string) bool {
	pattern = filepath.Clean(pattern)
	if strings.ContainsAny(pattern, "*?[") {
		ok, _ := filepath.Match(pattern, path)
		return ok
	}
	if path == pattern {
		return true
	}
	rel, err := filepath.Rel(pattern, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
