package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/vaultctl/pkg/session"
	"github.com/forest6511/vaultctl/pkg/vault"
)

// VaultCreateInput represents input for vault_create tool.
type VaultCreateInput struct {
	Path   string `json:"path"`
	NoOpen bool   `json:"no_open,omitempty"`
}

// VaultCreateOutput represents output for vault_create tool.
type VaultCreateOutput struct {
	Path    string       `json:"path"`
	Session *SessionInfo `json:"session,omitempty"`
}

// VaultLoadInput represents input for vault_load tool.
type VaultLoadInput struct {
	Path string `json:"path"`
}

// VaultCloseInput represents input for vault_close tool.
type VaultCloseInput struct {
	ID string `json:"id"`
}

// VaultCloseOutput represents output for vault_close tool.
type VaultCloseOutput struct {
	ID     string `json:"id"`
	Closed bool   `json:"closed"`
}

// VaultSessionsInput represents input for vault_sessions tool.
type VaultSessionsInput struct{}

// VaultSessionsOutput represents output for vault_sessions tool.
type VaultSessionsOutput struct {
	Sessions []SessionInfo `json:"sessions"`
}

// VaultInfoInput represents input for vault_info tool.
type VaultInfoInput struct {
	Path string `json:"path"`
}

// VaultInfoOutput represents output for vault_info tool.
type VaultInfoOutput struct {
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	FormatVersion int      `json:"format_version"`
	CreatedBy     string   `json:"created_by"`
	SchemaVersion int      `json:"schema_version"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	Entries       []string `json:"entries"`
}

// SessionInfo describes an open vault.
type SessionInfo struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Workspace  string `json:"workspace"`
	Manifest   string `json:"manifest"`
	ObjectsDir string `json:"objects_dir"`
	OpenedAt   string `json:"opened_at"`
}

func toSessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		Source:     s.Handle.Source,
		Workspace:  s.Handle.Workspace,
		Manifest:   s.Handle.Manifest,
		ObjectsDir: s.Handle.ObjectsDir,
		OpenedAt:   s.OpenedAt.Format(time.RFC3339),
	}
}

// handleVaultCreate handles the vault_create tool call.
func (s *Server) handleVaultCreate(ctx context.Context, _ *mcp.CallToolRequest, input VaultCreateInput) (*mcp.CallToolResult, VaultCreateOutput, error) {
	if !s.policy.CanCreate() {
		return nil, VaultCreateOutput{}, errors.New("vault_create is disabled by policy")
	}
	path, err := s.checkPath(input.Path)
	if err != nil {
		return nil, VaultCreateOutput{}, err
	}
	release, err := s.acquire()
	if err != nil {
		return nil, VaultCreateOutput{}, err
	}
	defer release()

	if err := s.vaults.Create(path); err != nil {
		return nil, VaultCreateOutput{}, describeError("create", err)
	}
	output := VaultCreateOutput{Path: path}
	if input.NoOpen {
		return nil, output, nil
	}

	sess, err := s.sessions.Open(ctx, path)
	if err != nil {
		return nil, VaultCreateOutput{}, describeError("load", err)
	}
	s.track(sess.ID)
	info := toSessionInfo(sess)
	output.Session = &info
	return nil, output, nil
}

// handleVaultLoad handles the vault_load tool call.
func (s *Server) handleVaultLoad(ctx context.Context, _ *mcp.CallToolRequest, input VaultLoadInput) (*mcp.CallToolResult, SessionInfo, error) {
	path, err := s.checkPath(input.Path)
	if err != nil {
		return nil, SessionInfo{}, err
	}
	release, err := s.acquire()
	if err != nil {
		return nil, SessionInfo{}, err
	}
	defer release()

	sess, err := s.sessions.Open(ctx, path)
	if err != nil {
		return nil, SessionInfo{}, describeError("load", err)
	}
	s.track(sess.ID)
	return nil, toSessionInfo(sess), nil
}

// handleVaultClose handles the vault_close tool call.
func (s *Server) handleVaultClose(ctx context.Context, _ *mcp.CallToolRequest, input VaultCloseInput) (*mcp.CallToolResult, VaultCloseOutput, error) {
	if input.ID == "" {
		return nil, VaultCloseOutput{}, errors.New("id is required")
	}
	sess, err := s.sessions.Registry().Get(ctx, input.ID)
	if err != nil {
		return nil, VaultCloseOutput{}, describeError("close", err)
	}
	if _, err := s.checkPath(sess.Handle.Source); err != nil {
		return nil, VaultCloseOutput{}, err
	}
	if err := s.sessions.Close(ctx, input.ID); err != nil {
		return nil, VaultCloseOutput{}, describeError("close", err)
	}
	s.untrack(input.ID)
	return nil, VaultCloseOutput{ID: input.ID, Closed: true}, nil
}

// handleVaultSessions handles the vault_sessions tool call.
func (s *Server) handleVaultSessions(ctx context.Context, _ *mcp.CallToolRequest, _ VaultSessionsInput) (*mcp.CallToolResult, VaultSessionsOutput, error) {
	sessions, err := s.sessions.Registry().List(ctx)
	if err != nil {
		return nil, VaultSessionsOutput{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	output := VaultSessionsOutput{Sessions: make([]SessionInfo, 0, len(sessions))}
	for i := range sessions {
		output.Sessions = append(output.Sessions, toSessionInfo(&sessions[i]))
	}
	return nil, output, nil
}

// handleVaultInfo handles the vault_info tool call.
func (s *Server) handleVaultInfo(_ context.Context, _ *mcp.CallToolRequest, input VaultInfoInput) (*mcp.CallToolResult, VaultInfoOutput, error) {
	path, err := s.checkPath(input.Path)
	if err != nil {
		return nil, VaultInfoOutput{}, err
	}
	info, err := s.vaults.Inspect(path)
	if err != nil {
		return nil, VaultInfoOutput{}, describeError("inspect", err)
	}
	m := info.Manifest
	return nil, VaultInfoOutput{
		Path:          info.Path,
		Size:          info.Size,
		FormatVersion: m.FormatVersion,
		CreatedBy:     m.CreatedBy,
		SchemaVersion: m.SchemaVersion,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     m.UpdatedAt.Format(time.RFC3339),
		Entries:       info.Entries,
	}, nil
}

// checkPath makes path absolute and applies the policy.
func (s *Server) checkPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if allowed, reason := s.policy.IsPathAllowed(abs); !allowed {
		return "", fmt.Errorf("policy denied: %s", reason)
	}
	return abs, nil
}

// acquire takes an archive operation slot without blocking.
func (s *Server) acquire() (release func(), err error) {
	select {
	case s.opSem <- struct{}{}:
		return func() { <-s.opSem }, nil
	default:
		return nil, fmt.Errorf("too many concurrent vault operations (max %d)", maxConcurrentOps)
	}
}

// describeError turns an internal error into the caller-facing message:
// the operation, the error kind and the detail.
func describeError(op string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("failed to %s vault: session not found", op)
	}
	return fmt.Errorf("failed to %s vault (%s): %v", op, vault.KindName(err), err)
}
