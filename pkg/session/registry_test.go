package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/forest6511/vaultctl/pkg/vault"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testHandle(id string) *vault.Handle {
	ws := filepath.Join("/tmp/vault-workspaces", id)
	return &vault.Handle{
		Source:     "/tmp/a.vault",
		Workspace:  ws,
		Manifest:   filepath.Join(ws, "manifest.json"),
		ObjectsDir: filepath.Join(ws, "user-files"),
	}
}

func TestPutGet(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	h := testHandle("ws-1-aaaaaaaaaaaa")
	id, err := r.Put(ctx, h)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id != "ws-1-aaaaaaaaaaaa" {
		t.Errorf("id = %q", id)
	}

	got, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Handle != *h {
		t.Errorf("handle = %+v, want %+v", got.Handle, *h)
	}
	if got.OpenedAt.IsZero() {
		t.Error("OpenedAt not set")
	}
}

func TestPut_Duplicate(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	h := testHandle("ws-1-aaaaaaaaaaaa")
	if _, err := r.Put(ctx, h); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := r.Put(ctx, h); !errors.Is(err, ErrExists) {
		t.Errorf("second Put error = %v, want ErrExists", err)
	}
}

func TestPut_NoWorkspace(t *testing.T) {
	r := setupRegistry(t)
	if _, err := r.Put(context.Background(), &vault.Handle{}); err == nil {
		t.Error("expected error for empty handle")
	}
	if _, err := r.Put(context.Background(), nil); err == nil {
		t.Error("expected error for nil handle")
	}
}

func TestGet_NotFound(t *testing.T) {
	r := setupRegistry(t)
	if _, err := r.Get(context.Background(), "ws-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListOrder(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, id := range []string{"ws-3-c", "ws-1-a", "ws-2-b"} {
		if _, err := r.Put(ctx, testHandle(id)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	ids, err := r.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	want := []string{"ws-3-c", "ws-1-a", "ws-2-b"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestList_Empty(t *testing.T) {
	r := setupRegistry(t)
	sessions, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("len = %d, want 0", len(sessions))
	}
}

func TestRemove(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	id, err := r.Put(ctx, testHandle("ws-1-a"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}
	if err := r.Remove(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestOpen_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sessions.db")
	ctx := context.Background()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Put(ctx, testHandle("ws-1-a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening reruns migrations as a no-op.
	r, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	if _, err := r.Get(ctx, "ws-1-a"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}
