// Package walk enumerates the indexable files under a root directory.
//
// Enumeration is deterministic: the same tree always yields the same
// ordered list, which the background scanner relies on to resume a pass
// from a saved position. Rules are applied in order: default-skipped
// directories, hidden entries, .gitignore patterns, include globs,
// exclude globs, and a file size cap.
package walk

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxFileSize is the largest file the index will consider. Anything
// bigger is almost never source code.
const DefaultMaxFileSize int64 = 2 << 20 // 2 MiB

// Options control enumeration and filtering.
type Options struct {
	// IncludeGlobs limits results to matching paths when non-empty.
	// Patterns without a path separator match the base name.
	IncludeGlobs []string
	// ExcludeGlobs removes matching paths from the results.
	ExcludeGlobs []string
	// IncludeHidden disables the dotfile and .gitignore rules.
	IncludeHidden bool
	// MaxFileSize caps file size in bytes. Zero means DefaultMaxFileSize;
	// negative disables the cap.
	MaxFileSize int64
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize == 0 {
		return DefaultMaxFileSize
	}
	return o.MaxFileSize
}

// List returns the absolute paths of all indexable files under root, in
// lexical order of their root-relative paths.
func List(root string, opts Options) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	f, err := NewFilter(abs, opts)
	if err != nil {
		return nil, err
	}

	var rels []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == abs {
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !f.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.Match(rel, false) {
			return nil
		}
		if max := opts.maxFileSize(); max > 0 {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > max {
				return nil
			}
		}

		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", abs, err)
	}

	sort.Strings(rels)
	files := make([]string, len(rels))
	for i, rel := range rels {
		files[i] = filepath.Join(abs, filepath.FromSlash(rel))
	}
	return files, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// skippedDir reports directories that never contain indexable sources.
func skippedDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "dist", "target", "build", "__pycache__":
		return true
	}
	return false
}
