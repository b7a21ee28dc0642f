package vault

import (
	"errors"
	"fmt"

	"github.com/forest6511/vaultctl/pkg/archive"
	"github.com/forest6511/vaultctl/pkg/manifest"
)

// Error kinds. Every error returned by Service wraps exactly one of these.
var (
	ErrIO            = errors.New("I/O error")
	ErrArchiveFormat = errors.New("zip error")
	ErrSerialization = errors.New("JSON error")
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidFormat = errors.New("invalid vault format")
)

// ErrInsufficientDisk is wrapped together with ErrIO when the workspaces root
// is too full to extract into.
var ErrInsufficientDisk = errors.New("insufficient disk space")

// Error describes a failed vault operation.
type Error struct {
	Op   string // create, import, load, close, inspect
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vault: %s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("vault: %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a stable, caller-facing name for the kind of err:
// "io", "archive_format", "serialization", "invalid_path", "invalid_format",
// or "unknown".
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrArchiveFormat):
		return "archive_format"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}

func newError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// wrap classifies err from the lower layers into a vault kind.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}
	switch {
	case errors.Is(err, archive.ErrFormat):
		return newError(op, path, ErrArchiveFormat, err)
	case errors.Is(err, archive.ErrUnsafeName):
		return newError(op, path, ErrInvalidPath, err)
	case errors.Is(err, manifest.ErrMalformed),
		errors.Is(err, manifest.ErrMissingField),
		errors.Is(err, manifest.ErrUnsupportedVersion):
		return newError(op, path, ErrSerialization, err)
	default:
		return newError(op, path, ErrIO, err)
	}
}
