package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// SkipFunc reports whether a walked path (slash separated, relative to the
// walk root) should be left out. Returning true for a directory prunes it.
type SkipFunc func(rel string, isDir bool) bool

// CollectDir walks root and returns directory and file entries for its tree,
// rooted under prefix inside the archive. Only regular files are collected;
// symlinks and special files are ignored.
func CollectDir(root, prefix string, skip SkipFunc) ([]Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if skip != nil && skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := path.Join(prefix, rel)
		if d.IsDir() {
			entries = append(entries, DirEntry(name))
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		entries = append(entries, FileEntry(name, data))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", root, err)
	}
	return entries, nil
}
