// Package session tracks opened vaults. Each successful load is recorded
// under its workspace id until the matching close, so hosts can list,
// look up and clean up every vault they opened.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest6511/vaultctl/pkg/vault"
)

// ErrNotFound is returned when no session has the requested id.
var ErrNotFound = errors.New("session: not found")

// ErrExists is returned when a session with the same id or workspace is already registered.
var ErrExists = errors.New("session: already registered")

// Session is a registered vault handle.
type Session struct {
	ID       string       `json:"id"`
	Handle   vault.Handle `json:"handle"`
	OpenedAt time.Time    `json:"opened_at"`
}

// Registry is a SQLite-backed set of open sessions.
type Registry struct {
	db  *db
	now func() time.Time
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
	return openRegistry(dsn)
}

// OpenMemory opens a named shared in-memory registry. Registries opened with
// the same name in one process share their contents.
func OpenMemory(name string) (*Registry, error) {
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)",
		url.PathEscape(name),
	)
	return openRegistry(dsn)
}

func openRegistry(dsn string) (*Registry, error) {
	d, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	return &Registry{db: d, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database connections.
func (r *Registry) Close() error {
	return r.db.close()
}

// Put registers h and returns its session id.
func (r *Registry) Put(ctx context.Context, h *vault.Handle) (string, error) {
	if h == nil || h.Workspace == "" {
		return "", errors.New("session: handle has no workspace")
	}
	const query = `INSERT INTO sessions (id, source, workspace, manifest, objects_dir, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	id := h.ID()
	openedAt := r.now().Format(time.RFC3339Nano)
	_, err := r.db.writer.ExecContext(ctx, query, id, h.Source, h.Workspace, h.Manifest, h.ObjectsDir, openedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return "", fmt.Errorf("put session %s: %w", id, ErrExists)
		}
		return "", fmt.Errorf("put session %s: %w", id, err)
	}
	return id, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	const query = `SELECT id, source, workspace, manifest, objects_dir, opened_at FROM sessions WHERE id = ?`

	s, err := scanSession(r.db.reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (r *Registry) List(ctx context.Context) ([]Session, error) {
	const query = `SELECT id, source, workspace, manifest, objects_dir, opened_at FROM sessions ORDER BY opened_at, id`

	rows, err := r.db.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// IDs returns the ids of all sessions, oldest first.
func (r *Registry) IDs(ctx context.Context) ([]string, error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// Remove unregisters id. It does not touch the workspace on disk.
func (r *Registry) Remove(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = ?`

	result, err := r.db.writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("remove session %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*Session, error) {
	var (
		sess     Session
		openedAt string
	)
	err := s.Scan(
		&sess.ID,
		&sess.Handle.Source,
		&sess.Handle.Workspace,
		&sess.Handle.Manifest,
		&sess.Handle.ObjectsDir,
		&openedAt,
	)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, openedAt)
	if err != nil {
		return nil, fmt.Errorf("parse opened_at %q: %w", openedAt, err)
	}
	sess.OpenedAt = t
	return &sess, nil
}
