package audit

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// KeyLength is the size of the install key in bytes.
const KeyLength = 32

// ErrInvalidKeyFile indicates the key file exists but has the wrong size.
var ErrInvalidKeyFile = errors.New("audit: invalid key file: must be exactly 32 bytes")

// LoadOrCreateKey reads the install key from path, generating a random one
// (mode 0600) when the file does not exist yet.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != KeyLength {
			return nil, ErrInvalidKeyFile
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("audit: failed to read key file: %w", err)
	}

	key = make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("audit: failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: failed to create key directory: %w", err)
	}
	// O_EXCL so two processes racing on first use cannot both win
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return LoadOrCreateKey(path)
		}
		return nil, fmt.Errorf("audit: failed to create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("audit: failed to write key file: %w", err)
	}
	return key, nil
}
