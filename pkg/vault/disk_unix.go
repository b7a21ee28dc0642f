//go:build !windows

package vault

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func diskSpace(path string) (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		// If the directory doesn't exist yet, check its parent
		if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
			return nil, fmt.Errorf("vault: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(stat.Bsize) //nolint:gosec // block size is never negative
	total := stat.Blocks * bsize
	free := stat.Bfree * bsize
	available := stat.Bavail * bsize

	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}

	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: available,
		UsedPct:   usedPct,
	}, nil
}
