package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forest6511/vaultctl/pkg/vault"
)

func setupManager(t *testing.T) (*Manager, *vault.Service, string) {
	t.Helper()
	tmpDir := t.TempDir()
	svc := vault.New(vault.Config{
		AppVersion:     "vaultctl test",
		SchemaVersion:  1,
		WorkspacesRoot: filepath.Join(tmpDir, "vault-workspaces"),
	}, vault.WithMinFreeSpace(0))
	return NewManager(svc, setupRegistry(t), nil), svc, tmpDir
}

func createVault(t *testing.T, svc *vault.Service, path string) {
	t.Helper()
	if err := svc.Create(path); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestManager_OpenClose(t *testing.T) {
	m, svc, tmpDir := setupManager(t)
	ctx := context.Background()
	path := filepath.Join(tmpDir, "a.vault")
	createVault(t, svc, path)

	s, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ID != filepath.Base(s.Handle.Workspace) {
		t.Errorf("id %q does not name workspace %q", s.ID, s.Handle.Workspace)
	}
	if _, err := os.Stat(s.Handle.ObjectsDir); err != nil {
		t.Errorf("objects dir missing: %v", err)
	}

	if err := m.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(s.Handle.Workspace); !os.IsNotExist(err) {
		t.Errorf("workspace still exists: %v", err)
	}
	if _, err := m.Registry().Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("session still registered: %v", err)
	}
	if err := m.Close(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close = %v, want ErrNotFound", err)
	}
}

func TestManager_OpenMissingVault(t *testing.T) {
	m, _, tmpDir := setupManager(t)
	ctx := context.Background()

	_, err := m.Open(ctx, filepath.Join(tmpDir, "missing.vault"))
	if !errors.Is(err, vault.ErrInvalidPath) {
		t.Fatalf("error = %v, want ErrInvalidPath", err)
	}
	ids, err := m.Registry().IDs(ctx)
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("registered sessions after failed open: %v", ids)
	}
}

func TestManager_OpenTwice(t *testing.T) {
	m, svc, tmpDir := setupManager(t)
	ctx := context.Background()
	path := filepath.Join(tmpDir, "a.vault")
	createVault(t, svc, path)

	a, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	b, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if a.ID == b.ID {
		t.Errorf("same id %q for two opens", a.ID)
	}

	if err := m.CloseAll(ctx, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	ids, _ := m.Registry().IDs(ctx)
	if len(ids) != 0 {
		t.Errorf("sessions left: %v", ids)
	}
}

func TestManager_CloseAllContinuesPastFailures(t *testing.T) {
	m, svc, tmpDir := setupManager(t)
	ctx := context.Background()
	path := filepath.Join(tmpDir, "a.vault")
	createVault(t, svc, path)

	s, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = m.CloseAll(ctx, []string{"ws-unknown", s.ID})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CloseAll error = %v, want ErrNotFound joined", err)
	}
	if _, err := m.Registry().Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("valid session not closed: %v", err)
	}
}

func TestManager_Prune(t *testing.T) {
	m, svc, tmpDir := setupManager(t)
	ctx := context.Background()
	path := filepath.Join(tmpDir, "a.vault")
	createVault(t, svc, path)

	keep, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	gone, err := m.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.RemoveAll(gone.Handle.Workspace); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	pruned, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != gone.ID {
		t.Errorf("pruned = %v, want [%s]", pruned, gone.ID)
	}
	if _, err := m.Registry().Get(ctx, keep.ID); err != nil {
		t.Errorf("live session pruned: %v", err)
	}
}
