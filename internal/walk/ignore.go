package walk

import (
	"github.com/go-git/go-billy/v5/osfs"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// ignoreRules wraps the repository's .gitignore patterns. A nil receiver
// ignores nothing.
type ignoreRules struct {
	matcher gitignore.Matcher
}

func loadIgnoreRules(root string) (*ignoreRules, error) {
	patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return &ignoreRules{matcher: gitignore.NewMatcher(patterns)}, nil
}

func (r *ignoreRules) ignored(segments []string, isDir bool) bool {
	if r == nil || r.matcher == nil {
		return false
	}
	return r.matcher.Match(segments, isDir)
}
