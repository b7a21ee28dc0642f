// Package cli provides shared utilities for CLI commands.
package cli

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/forest6511/vaultctl/pkg/archive"
)

// ErrNoMatch is returned when a pattern matches no session id.
var ErrNoMatch = errors.New("no matching session")

// ExpandPattern expands a glob pattern against the open session ids.
// If the pattern contains glob characters (*?[), it performs glob matching.
// Otherwise, it performs exact matching.
func ExpandPattern(pattern string, ids []string) ([]string, error) {
	// Validate pattern syntax
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		for _, id := range ids {
			if id == pattern {
				return []string{pattern}, nil
			}
		}
		return nil, fmt.Errorf("%w: '%s'", ErrNoMatch, pattern)
	}

	var matches []string
	for _, id := range ids {
		matched, err := filepath.Match(pattern, id)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, id)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pattern '%s'", ErrNoMatch, pattern)
	}

	return matches, nil
}

// ExpandPatterns expands multiple glob patterns against the session ids.
// Returns unique matching ids preserving order of first match.
func ExpandPatterns(patterns []string, ids []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, pattern := range patterns {
		matches, err := ExpandPattern(pattern, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range matches {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}

	return result, nil
}

// ExcludeFunc builds an import filter from glob patterns. A pattern without
// a slash matches any path element by base name ("*.log", ".git"); a pattern
// with a slash matches the whole slash-separated relative path
// ("build/out/*"). Excluded directories are not descended into.
func ExcludeFunc(patterns []string) (archive.SkipFunc, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern '%s': %w", p, err)
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	return func(rel string, _ bool) bool {
		rel = filepath.ToSlash(rel)
		base := path.Base(rel)
		for _, p := range patterns {
			target := base
			if strings.Contains(p, "/") {
				target = rel
			}
			if ok, _ := path.Match(p, target); ok {
				return true
			}
		}
		return false
	}, nil
}
