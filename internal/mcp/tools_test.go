package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forest6511/vaultctl/pkg/manifest"
	"github.com/forest6511/vaultctl/pkg/session"
	"github.com/forest6511/vaultctl/pkg/vault"
)

func TestHandleVaultCreate_OpensByDefault(t *testing.T) {
	s, tmpDir := testServer(t)
	path := filepath.Join(tmpDir, "new.vault")

	_, out, err := s.handleVaultCreate(context.Background(), nil, VaultCreateInput{Path: path})
	if err != nil {
		t.Fatalf("vault_create failed: %v", err)
	}
	if out.Path != path {
		t.Errorf("expected path %s, got %s", path, out.Path)
	}
	if out.Session == nil {
		t.Fatal("expected a session")
	}
	if _, err := os.Stat(out.Session.ObjectsDir); err != nil {
		t.Errorf("objects dir missing: %v", err)
	}
	if _, err := os.Stat(out.Session.Manifest); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
	if !s.opened[out.Session.ID] {
		t.Error("session should be tracked by the server")
	}
}

func TestHandleVaultCreate_NoOpen(t *testing.T) {
	s, tmpDir := testServer(t)
	path := filepath.Join(tmpDir, "new.vault")

	_, out, err := s.handleVaultCreate(context.Background(), nil, VaultCreateInput{Path: path, NoOpen: true})
	if err != nil {
		t.Fatalf("vault_create failed: %v", err)
	}
	if out.Session != nil {
		t.Error("expected no session with no_open")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("vault file missing: %v", err)
	}
}

func TestHandleVaultCreate_Validation(t *testing.T) {
	s, tmpDir := testServer(t)

	blocker := filepath.Join(tmpDir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name    string
		input   VaultCreateInput
		wantMsg string
	}{
		{"empty path", VaultCreateInput{}, "path is required"},
		{"parent is a file", VaultCreateInput{Path: filepath.Join(blocker, "a.vault")}, "failed to create vault (io)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.handleVaultCreate(context.Background(), nil, tt.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in error, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestHandleVaultCreate_DisabledByPolicy(t *testing.T) {
	s, tmpDir := testServer(t)
	disabled := false
	s.policy = &Policy{Version: 1, DefaultAction: ActionAllow, AllowCreate: &disabled}

	_, _, err := s.handleVaultCreate(context.Background(), nil, VaultCreateInput{Path: filepath.Join(tmpDir, "a.vault")})
	if err == nil || !strings.Contains(err.Error(), "disabled by policy") {
		t.Errorf("expected policy error, got %v", err)
	}
}

func TestHandleVaultLoad_PolicyDenied(t *testing.T) {
	s, tmpDir := testServer(t)
	path := filepath.Join(tmpDir, "a.vault")
	createTestVault(t, s, path)
	s.policy = &Policy{Version: 1, DefaultAction: ActionDeny}

	_, _, err := s.handleVaultLoad(context.Background(), nil, VaultLoadInput{Path: path})
	if err == nil || !strings.Contains(err.Error(), "policy denied") {
		t.Errorf("expected policy denial, got %v", err)
	}
}

func TestHandleVaultLoad_ErrorKinds(t *testing.T) {
	s, tmpDir := testServer(t)

	notZip := filepath.Join(tmpDir, "plain.vault")
	if err := os.WriteFile(notZip, []byte("not a zip"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name string
		path string
		kind string
	}{
		{"missing file", filepath.Join(tmpDir, "missing.vault"), "invalid_path"},
		{"not a zip", notZip, "archive_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.handleVaultLoad(context.Background(), nil, VaultLoadInput{Path: tt.path})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "("+tt.kind+")") {
				t.Errorf("expected kind %s in %q", tt.kind, err.Error())
			}
		})
	}
}

func TestHandleVaultLoadClose(t *testing.T) {
	s, tmpDir := testServer(t)
	ctx := context.Background()
	path := filepath.Join(tmpDir, "a.vault")
	createTestVault(t, s, path)

	_, info, err := s.handleVaultLoad(ctx, nil, VaultLoadInput{Path: path})
	if err != nil {
		t.Fatalf("vault_load failed: %v", err)
	}
	if info.Source != path {
		t.Errorf("expected source %s, got %s", path, info.Source)
	}
	m, err := manifest.ReadFile(info.Manifest)
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	if m.CreatedBy != "vaultctl test" {
		t.Errorf("unexpected created_by %q", m.CreatedBy)
	}

	_, listed, err := s.handleVaultSessions(ctx, nil, VaultSessionsInput{})
	if err != nil {
		t.Fatalf("vault_sessions failed: %v", err)
	}
	if len(listed.Sessions) != 1 || listed.Sessions[0].ID != info.ID {
		t.Errorf("unexpected sessions %+v", listed.Sessions)
	}

	_, closed, err := s.handleVaultClose(ctx, nil, VaultCloseInput{ID: info.ID})
	if err != nil {
		t.Fatalf("vault_close failed: %v", err)
	}
	if !closed.Closed {
		t.Error("expected closed=true")
	}
	if _, err := os.Stat(info.Workspace); !os.IsNotExist(err) {
		t.Errorf("workspace should be gone, stat err = %v", err)
	}
	if s.opened[info.ID] {
		t.Error("closed session still tracked")
	}

	_, _, err = s.handleVaultClose(ctx, nil, VaultCloseInput{ID: info.ID})
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("expected session not found, got %v", err)
	}
}

func TestHandleVaultClose_EmptyID(t *testing.T) {
	s, _ := testServer(t)
	if _, _, err := s.handleVaultClose(context.Background(), nil, VaultCloseInput{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestHandleVaultClose_PolicyDenied(t *testing.T) {
	s, tmpDir := testServer(t)
	ctx := context.Background()
	path := filepath.Join(tmpDir, "a.vault")
	createTestVault(t, s, path)

	_, info, err := s.handleVaultLoad(ctx, nil, VaultLoadInput{Path: path})
	if err != nil {
		t.Fatalf("vault_load failed: %v", err)
	}

	s.policy = &Policy{Version: 1, DefaultAction: ActionDeny}
	_, _, err = s.handleVaultClose(ctx, nil, VaultCloseInput{ID: info.ID})
	if err == nil || !strings.Contains(err.Error(), "policy denied") {
		t.Fatalf("expected policy denial, got %v", err)
	}
	if _, err := s.sessions.Registry().Get(ctx, info.ID); err != nil {
		t.Errorf("denied close must keep the session: %v", err)
	}
	if _, err := os.Stat(info.Workspace); err != nil {
		t.Errorf("denied close must keep the workspace: %v", err)
	}
}

func TestHandleVaultSessions_Empty(t *testing.T) {
	s, _ := testServer(t)

	_, out, err := s.handleVaultSessions(context.Background(), nil, VaultSessionsInput{})
	if err != nil {
		t.Fatalf("vault_sessions failed: %v", err)
	}
	if out.Sessions == nil || len(out.Sessions) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", out.Sessions)
	}
}

func TestHandleVaultInfo(t *testing.T) {
	s, tmpDir := testServer(t)
	path := filepath.Join(tmpDir, "a.vault")
	createTestVault(t, s, path)

	_, out, err := s.handleVaultInfo(context.Background(), nil, VaultInfoInput{Path: path})
	if err != nil {
		t.Fatalf("vault_info failed: %v", err)
	}
	if out.FormatVersion != manifest.FormatVersion {
		t.Errorf("expected format_version %d, got %d", manifest.FormatVersion, out.FormatVersion)
	}
	if out.SchemaVersion != 1 {
		t.Errorf("expected schema_version 1, got %d", out.SchemaVersion)
	}
	if len(out.Entries) != 2 {
		t.Errorf("expected 2 entries, got %v", out.Entries)
	}
}

func TestAcquire_Limit(t *testing.T) {
	s, _ := testServer(t)

	var releases []func()
	for i := 0; i < maxConcurrentOps; i++ {
		release, err := s.acquire()
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		releases = append(releases, release)
	}
	if _, err := s.acquire(); err == nil {
		t.Error("expected error past the limit")
	}
	releases[0]()
	release, err := s.acquire()
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	release()
	for _, r := range releases[1:] {
		r()
	}
}

func TestDescribeError(t *testing.T) {
	err := describeError("load", &vault.Error{Op: "load", Path: "/x", Kind: vault.ErrInvalidFormat, Err: errors.New("missing manifest.json")})
	if !strings.Contains(err.Error(), "failed to load vault (invalid_format)") {
		t.Errorf("unexpected message %q", err.Error())
	}

	err = describeError("close", session.ErrNotFound)
	if err.Error() != "failed to close vault: session not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
