// Package manifest defines the versioned metadata record embedded in every vault.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// FormatVersion is the current container format revision.
const FormatVersion = 1

// FileName is the fixed location of the manifest at the archive root.
const FileName = "manifest.json"

var (
	// ErrMalformed indicates the manifest is not a JSON object of the expected shape.
	ErrMalformed = errors.New("manifest: malformed JSON")
	// ErrMissingField indicates a required field is absent.
	ErrMissingField = errors.New("manifest: missing required field")
	// ErrUnsupportedVersion indicates a container format newer than this build understands.
	ErrUnsupportedVersion = errors.New("manifest: unsupported format version")
)

// Manifest is the metadata record stored as manifest.json.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	CreatedBy     string    `json:"created_by"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New returns a manifest stamped with the current time.
func New(createdBy string, schemaVersion int) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		FormatVersion: FormatVersion,
		CreatedBy:     createdBy,
		SchemaVersion: schemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Marshal encodes the manifest as indented UTF-8 JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to marshal: %w", err)
	}
	return data, nil
}

// wire mirrors Manifest with pointer fields so absent keys can be told apart
// from zero values.
type wire struct {
	FormatVersion *int       `json:"format_version"`
	CreatedBy     *string    `json:"created_by"`
	SchemaVersion *int       `json:"schema_version"`
	CreatedAt     *time.Time `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

// Parse decodes a manifest. Every field is required; nothing is defaulted.
func Parse(data []byte) (*Manifest, error) {
	var w wire
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}

	switch {
	case w.FormatVersion == nil:
		return nil, fmt.Errorf("%w: format_version", ErrMissingField)
	case w.CreatedBy == nil:
		return nil, fmt.Errorf("%w: created_by", ErrMissingField)
	case w.SchemaVersion == nil:
		return nil, fmt.Errorf("%w: schema_version", ErrMissingField)
	case w.CreatedAt == nil:
		return nil, fmt.Errorf("%w: created_at", ErrMissingField)
	case w.UpdatedAt == nil:
		return nil, fmt.Errorf("%w: updated_at", ErrMissingField)
	}

	if *w.FormatVersion < 1 || *w.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, *w.FormatVersion, FormatVersion)
	}

	return &Manifest{
		FormatVersion: *w.FormatVersion,
		CreatedBy:     *w.CreatedBy,
		SchemaVersion: *w.SchemaVersion,
		CreatedAt:     *w.CreatedAt,
		UpdatedAt:     *w.UpdatedAt,
	}, nil
}

// ReadFile reads and parses the manifest at path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read %s: %w", path, err)
	}
	return Parse(data)
}
