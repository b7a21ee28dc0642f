//go:build windows

package config

import (
	"fmt"
	"os"
)

// openConfigFile opens the config file. Windows has no O_NOFOLLOW.
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return f, nil
}

// checkFileSecurity on Windows is a no-op; access is governed by ACLs.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
