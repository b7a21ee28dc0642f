package vault

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// CheckDiskSpace returns disk space information for the workspaces root.
func (s *Service) CheckDiskSpace() (*DiskSpaceInfo, error) {
	return diskSpace(s.cfg.WorkspacesRoot)
}

// checkDiskSpaceForLoad refuses extraction when the workspaces root is nearly
// full. A failed stat only logs a warning.
func (s *Service) checkDiskSpaceForLoad() error {
	info, err := s.CheckDiskSpace()
	if err != nil {
		s.logger.Warn("failed to check disk space", "root", s.cfg.WorkspacesRoot, "err", err)
		return nil
	}
	if info.Available < s.minFree {
		return ErrInsufficientDisk
	}
	return nil
}
