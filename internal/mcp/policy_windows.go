//go:build windows

package mcp

import (
	"fmt"
	"os"
)

// openPolicyFile opens the policy file on Windows.
// Windows doesn't have O_NOFOLLOW, and creating symlinks needs privileges.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	return f, nil
}

// checkFileSecurity on Windows is a no-op.
// Windows uses ACLs for file ownership which requires different handling.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
