package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"

	"github.com/forest6511/vaultctl/pkg/vault"
)

// Vaults is the part of *vault.Service a Manager drives.
type Vaults interface {
	Load(vaultPath string) (*vault.Handle, error)
	Close(h *vault.Handle) error
}

var _ Vaults = (*vault.Service)(nil)

// Manager pairs vault loads and closes with registry updates.
type Manager struct {
	vaults Vaults
	reg    *Registry
	logger *log.Logger
}

// NewManager returns a Manager. A nil logger discards output.
func NewManager(v Vaults, reg *Registry, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{vaults: v, reg: reg, logger: logger}
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// Open loads vaultPath and registers the resulting handle. If registration
// fails the fresh workspace is removed again.
func (m *Manager) Open(ctx context.Context, vaultPath string) (*Session, error) {
	h, err := m.vaults.Load(vaultPath)
	if err != nil {
		return nil, err
	}
	id, err := m.reg.Put(ctx, h)
	if err != nil {
		if cerr := m.vaults.Close(h); cerr != nil {
			m.logger.Warn("failed to remove unregistered workspace", "workspace", h.Workspace, "err", cerr)
		}
		return nil, err
	}
	return m.reg.Get(ctx, id)
}

// Close removes the workspace of session id and unregisters it. When the
// workspace cannot be removed the session stays registered so the close
// can be retried.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, err := m.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.vaults.Close(&s.Handle); err != nil {
		return err
	}
	return m.reg.Remove(ctx, id)
}

// CloseAll closes every listed session, continuing past failures. The
// returned error joins all individual failures.
func (m *Manager) CloseAll(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			m.logger.Warn("failed to close session", "id", id, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Prune unregisters sessions whose workspace no longer exists on disk and
// returns their ids.
func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	sessions, err := m.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	var pruned []string
	for _, s := range sessions {
		if _, err := os.Stat(s.Handle.Workspace); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := m.reg.Remove(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return pruned, err
		}
		m.logger.Debug("pruned stale session", "id", s.ID)
		pruned = append(pruned, s.ID)
	}
	return pruned, nil
}
