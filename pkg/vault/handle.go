package vault

import "path/filepath"

// Handle references an opened vault: its source archive and the workspace
// it was extracted into. A Handle is valid from a successful Load until the
// matching Close; afterwards the paths it names may no longer exist.
type Handle struct {
	Source     string `json:"source"`
	Workspace  string `json:"workspace"`
	Manifest   string `json:"manifest"`
	ObjectsDir string `json:"objects_dir"`
}

// ID returns the workspace identifier, the base name of the workspace directory.
func (h *Handle) ID() string {
	return filepath.Base(h.Workspace)
}
