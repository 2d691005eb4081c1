package walk

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Filter answers whether a single path belongs in the index, using the
// same rules List applies during enumeration. The watcher uses it to
// discard events for paths the index would never contain.
type Filter struct {
	root string
	opts Options
	ign  *ignoreRules
}

// NewFilter loads the .gitignore patterns under root and returns a
// reusable matcher.
func NewFilter(root string, opts Options) (*Filter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	var ign *ignoreRules
	if !opts.IncludeHidden {
		ign, err = loadIgnoreRules(abs)
		if err != nil {
			return nil, fmt.Errorf("load ignore rules for %s: %w", abs, err)
		}
	}
	return &Filter{root: abs, opts: opts, ign: ign}, nil
}

// Match reports whether the path passes the filter. It accepts an
// absolute path under the filter's root or a slash-separated relative
// one. Every path segment is checked, so a file inside a skipped
// directory is rejected even when probed directly.
func (f *Filter) Match(p string, isDir bool) bool {
	rel, ok := f.relative(p)
	if !ok {
		return false
	}

	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		last := i == len(segs)-1
		if !f.opts.IncludeHidden && isHidden(seg) {
			return false
		}
		if (!last || isDir) && skippedDir(seg) {
			return false
		}
	}
	if f.ign.ignored(segs, isDir) {
		return false
	}

	if isDir {
		return true
	}
	if len(f.opts.IncludeGlobs) > 0 && !anyMatch(f.opts.IncludeGlobs, rel) {
		return false
	}
	return !anyMatch(f.opts.ExcludeGlobs, rel)
}

func (f *Filter) relative(p string) (string, bool) {
	if !filepath.IsAbs(p) {
		rel := strings.Trim(filepath.ToSlash(p), "/")
		return rel, rel != ""
	}
	rel, err := filepath.Rel(f.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func anyMatch(patterns []string, rel string) bool {
	for _, pat := range patterns {
		pat = strings.TrimSpace(filepath.ToSlash(pat))
		if pat == "" {
			continue
		}
		var ok bool
		if strings.Contains(pat, "/") {
			ok, _ = path.Match(pat, rel)
		} else {
			ok, _ = path.Match(pat, path.Base(rel))
		}
		if ok {
			return true
		}
	}
	return false
}
