// Package vault manages the lifecycle of vault containers: single zip files
// holding a manifest.json and a user-files tree.
//
// A Service creates containers atomically, extracts them into ephemeral
// workspaces, validates their structure and removes workspaces on Close.
// Operations are synchronous and hold no internal locks; keeping track of
// which vaults are open is left to the caller (see package session).
package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/forest6511/vaultctl/pkg/archive"
	"github.com/forest6511/vaultctl/pkg/audit"
	"github.com/forest6511/vaultctl/pkg/manifest"
)

// Constants
const (
	UserFilesDir    = "user-files"
	WorkspacePrefix = "ws-"
	DirMode         = 0700 // Owner read/write/execute only

	// Loads are refused when the workspaces root has less free space than this
	MinDiskSpaceBytes = 10 * 1024 * 1024
)

// Operation names used in errors, logs and audit records.
const (
	OpCreate  = "create"
	OpImport  = "import"
	OpLoad    = "load"
	OpClose   = "close"
	OpInspect = "inspect"
)

// Config is fixed at construction.
type Config struct {
	AppVersion     string // recorded as created_by
	SchemaVersion  int
	WorkspacesRoot string
}

// Auditor receives one record per completed operation.
type Auditor interface {
	LogSuccess(op, source, target string) error
	LogError(op, source, target, errCode, errMsg string) error
}

// Service orchestrates vault create, load and close.
type Service struct {
	cfg     Config
	logger  *log.Logger
	auditor Auditor
	source  string
	now     func() time.Time
	newID   func(time.Time) string
	minFree uint64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAuditor records operations originating from source (cli, mcp).
func WithAuditor(a Auditor, source string) Option {
	return func(s *Service) {
		s.auditor = a
		s.source = source
	}
}

// WithClock overrides the wall clock used for workspace ids.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides workspace id generation. The id becomes a single
// directory name under the workspaces root.
func WithIDGenerator(gen func(time.Time) string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithMinFreeSpace overrides MinDiskSpaceBytes.
func WithMinFreeSpace(n uint64) Option {
	return func(s *Service) { s.minFree = n }
}

// New creates a Service for cfg.
func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		logger:  log.New(io.Discard),
		now:     time.Now,
		newID:   defaultWorkspaceID,
		minFree: MinDiskSpaceBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// defaultWorkspaceID combines the millisecond clock with a random token so
// concurrent loads in the same millisecond cannot collide.
func defaultWorkspaceID(t time.Time) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d-%s", WorkspacePrefix, t.UnixMilli(), token[:12])
}

// Create writes an empty vault to target, replacing any file already there.
//
// The archive is first written to a hidden sibling (".<name>.tmp") and then
// renamed onto target, so readers see either the old file or the new one.
// On failure the temp file is left behind; the next Create removes it.
func (s *Service) Create(target string) error {
	err := s.create(OpCreate, target, nil)
	s.record(OpCreate, target, err)
	return err
}

// Import creates a new vault at target whose user-files tree is seeded from
// srcDir. skip, if non-nil, filters the walked paths.
func (s *Service) Import(target, srcDir string, skip archive.SkipFunc) error {
	err := s.importDir(target, srcDir, skip)
	s.record(OpImport, target, err)
	return err
}

func (s *Service) importDir(target, srcDir string, skip archive.SkipFunc) error {
	entries, err := archive.CollectDir(srcDir, UserFilesDir, skip)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(OpImport, srcDir, ErrInvalidPath, err)
		}
		return wrap(OpImport, srcDir, err)
	}
	return s.create(OpImport, target, entries)
}

func (s *Service) create(op, target string, userFiles []archive.Entry) error {
	tmp, err := tempPathNextTo(target)
	if err != nil {
		return newError(op, target, ErrInvalidPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return wrap(op, target, err)
	}

	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap(op, target, fmt.Errorf("remove stale temp file: %w", err))
	}

	m := manifest.New(s.cfg.AppVersion, s.cfg.SchemaVersion)
	manifestBytes, err := m.Marshal()
	if err != nil {
		return newError(op, target, ErrSerialization, err)
	}

	entries := make([]archive.Entry, 0, len(userFiles)+2)
	entries = append(entries,
		archive.DirEntry(UserFilesDir+"/"),
		archive.FileEntry(manifest.FileName, manifestBytes),
	)
	entries = append(entries, userFiles...)

	if err := archive.Pack(entries, tmp); err != nil {
		return wrap(op, target, err)
	}

	if err := atomic.ReplaceFile(tmp, target); err != nil {
		return wrap(op, target, fmt.Errorf("replace: %w", err))
	}

	s.logger.Info("vault created", "op", op, "path", target, "entries", len(entries))
	return nil
}

// tempPathNextTo returns ".<name>.tmp" in the same directory as path, so the
// final rename never crosses a filesystem boundary.
func tempPathNextTo(path string) (string, error) {
	if path == "" || strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return "", errors.New("missing filename")
	}
	name := filepath.Base(path)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", errors.New("missing filename")
	}
	return filepath.Join(filepath.Dir(path), "."+name+".tmp"), nil
}

// Load extracts the vault at vaultPath into a fresh workspace and returns a
// handle to it.
//
// A missing source fails with ErrInvalidPath before anything is created. A
// container without manifest.json fails with ErrInvalidFormat and its
// workspace is left on disk for inspection. A missing user-files directory
// is created empty.
func (s *Service) Load(vaultPath string) (*Handle, error) {
	h, err := s.load(vaultPath)
	s.record(OpLoad, vaultPath, err)
	return h, err
}

func (s *Service) load(vaultPath string) (*Handle, error) {
	info, err := os.Stat(vaultPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(OpLoad, vaultPath, ErrInvalidPath, errors.New("vault file does not exist"))
		}
		return nil, wrap(OpLoad, vaultPath, err)
	}
	if info.IsDir() {
		return nil, newError(OpLoad, vaultPath, ErrInvalidPath, errors.New("not a file"))
	}

	source, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, wrap(OpLoad, vaultPath, err)
	}
	root, err := filepath.Abs(s.cfg.WorkspacesRoot)
	if err != nil {
		return nil, wrap(OpLoad, vaultPath, err)
	}

	if err := os.MkdirAll(root, DirMode); err != nil {
		return nil, wrap(OpLoad, vaultPath, fmt.Errorf("create workspaces root: %w", err))
	}
	if err := s.checkDiskSpaceForLoad(); err != nil {
		return nil, newError(OpLoad, vaultPath, ErrIO, err)
	}

	workspace := filepath.Join(root, s.newID(s.now()))
	if err := os.Mkdir(workspace, DirMode); err != nil {
		return nil, wrap(OpLoad, vaultPath, fmt.Errorf("create workspace: %w", err))
	}

	result, err := archive.Extract(source, workspace)
	if err != nil {
		return nil, wrap(OpLoad, vaultPath, err)
	}
	if len(result.Skipped) > 0 {
		s.logger.Warn("skipped unsafe archive entries", "path", source, "count", len(result.Skipped), "entries", result.Skipped)
	}

	manifestPath := filepath.Join(workspace, manifest.FileName)
	mi, err := os.Stat(manifestPath)
	if err != nil || mi.IsDir() {
		return nil, newError(OpLoad, vaultPath, ErrInvalidFormat,
			fmt.Errorf("missing %s (workspace kept at %s)", manifest.FileName, workspace))
	}
	if _, err := manifest.ReadFile(manifestPath); err != nil {
		return nil, wrap(OpLoad, vaultPath, err)
	}

	objectsDir := filepath.Join(workspace, UserFilesDir)
	if err := os.MkdirAll(objectsDir, DirMode); err != nil {
		return nil, wrap(OpLoad, vaultPath, err)
	}

	h := &Handle{
		Source:     source,
		Workspace:  workspace,
		Manifest:   manifestPath,
		ObjectsDir: objectsDir,
	}
	s.logger.Info("vault loaded", "path", source, "workspace", workspace,
		"files", result.Files, "dirs", result.Dirs)
	return h, nil
}

// Close removes the workspace named by h. A workspace that is already gone
// is not an error. Only direct children of the configured root are removed.
func (s *Service) Close(h *Handle) error {
	var target string
	if h != nil {
		target = h.Workspace
	}
	err := s.close(h)
	s.record(OpClose, target, err)
	return err
}

func (s *Service) close(h *Handle) error {
	if h == nil || h.Workspace == "" {
		return newError(OpClose, "", ErrInvalidPath, errors.New("empty handle"))
	}
	root, err := filepath.Abs(s.cfg.WorkspacesRoot)
	if err != nil {
		return wrap(OpClose, h.Workspace, err)
	}
	workspace, err := filepath.Abs(h.Workspace)
	if err != nil {
		return wrap(OpClose, h.Workspace, err)
	}
	rel, err := filepath.Rel(root, workspace)
	if err != nil || rel == "." || strings.Contains(rel, string(filepath.Separator)) || rel == ".." {
		return newError(OpClose, h.Workspace, ErrInvalidPath, errors.New("workspace is not managed by this service"))
	}

	if err := os.RemoveAll(workspace); err != nil {
		return wrap(OpClose, h.Workspace, err)
	}
	s.logger.Info("vault closed", "workspace", workspace)
	return nil
}

// Info describes a vault container without extracting it.
type Info struct {
	Path     string             `json:"path"`
	Size     int64              `json:"size"`
	Manifest *manifest.Manifest `json:"manifest"`
	Entries  []string           `json:"entries"`
}

// Inspect reads the manifest and entry list straight from the container.
func (s *Service) Inspect(vaultPath string) (*Info, error) {
	st, err := os.Stat(vaultPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(OpInspect, vaultPath, ErrInvalidPath, errors.New("vault file does not exist"))
		}
		return nil, wrap(OpInspect, vaultPath, err)
	}

	names, err := archive.List(vaultPath)
	if err != nil {
		return nil, wrap(OpInspect, vaultPath, err)
	}
	data, err := archive.ReadFile(vaultPath, manifest.FileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(OpInspect, vaultPath, ErrInvalidFormat, fmt.Errorf("missing %s", manifest.FileName))
		}
		return nil, wrap(OpInspect, vaultPath, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, wrap(OpInspect, vaultPath, err)
	}

	return &Info{
		Path:     vaultPath,
		Size:     st.Size(),
		Manifest: m,
		Entries:  names,
	}, nil
}

// record forwards the outcome of op to the auditor. Audit failures are
// logged and never change the operation's result.
func (s *Service) record(op, target string, err error) {
	if err != nil {
		s.logger.Error("vault operation failed", "op", op, "path", target, "err", err)
	}
	if s.auditor == nil {
		return
	}
	auditOp, ok := auditOps[op]
	if !ok {
		return
	}
	var auditErr error
	if err != nil {
		auditErr = s.auditor.LogError(auditOp, s.source, target, KindName(err), err.Error())
	} else {
		auditErr = s.auditor.LogSuccess(auditOp, s.source, target)
	}
	if auditErr != nil {
		s.logger.Warn("failed to write audit record", "op", auditOp, "err", auditErr)
	}
}

var auditOps = map[string]string{
	OpCreate: audit.OpVaultCreate,
	OpImport: audit.OpVaultImport,
	OpLoad:   audit.OpVaultLoad,
	OpClose:  audit.OpVaultClose,
}

var _ Auditor = (*audit.Logger)(nil)
