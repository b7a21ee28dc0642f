//go:build !windows

package config

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// openConfigFile opens the config file with O_NOFOLLOW to reject symlinks
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrConfigSymlink
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return f, nil
}

// checkFileSecurity rejects files writable by group or others and files
// owned by another user
func checkFileSecurity(info os.FileInfo) error {
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		return fmt.Errorf("%w: %o", ErrConfigInsecure, perm)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if ok && stat.Uid != uint32(os.Getuid()) {
		return ErrConfigNotOwnedByUser
	}
	return nil
}
