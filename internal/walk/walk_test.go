package walk

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func relNames(t *testing.T, root string, abs []string) []string {
	t.Helper()
	rels := make([]string, len(abs))
	for i, p := range abs {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		rels[i] = filepath.ToSlash(rel)
	}
	return rels
}

func TestListIsDeterministicAndSorted(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"zeta.go":      "package z",
		"alpha.go":     "package a",
		"sub/mid.go":   "package m",
		"sub/inner.md": "# notes",
	})

	first, err := List(root, Options{})
	require.NoError(t, err)
	second, err := List(root, Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"alpha.go", "sub/inner.md", "sub/mid.go", "zeta.go"},
		relNames(t, root, first))
	for _, p := range first {
		assert.True(t, filepath.IsAbs(p), "List returns absolute paths: %s", p)
	}
}

func TestListSkipsHiddenAndWellKnownDirs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.go":                "package k",
		".hidden.go":             "package h",
		".config/tool.go":        "package t",
		"node_modules/lib/x.js":  "x",
		"vendor/dep/dep.go":      "package dep",
		"__pycache__/mod.pyc":    "bin",
		"target/debug/out.rs":    "out",
		"sub/.git/objects/aa/bb": "blob",
		"sub/keep_too.go":        "package k2",
	})

	files, err := List(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.go", "sub/keep_too.go"}, relNames(t, root, files))
}

func TestListHonorsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":       "*.log\ngenerated/\n",
		"main.go":          "package main",
		"debug.log":        "noise",
		"generated/gen.go": "package gen",
	})

	files, err := List(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, relNames(t, root, files))
}

func TestListIncludeExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":      "package a",
		"a_test.go": "package a",
		"b.sql":     "select 1;",
		"docs/c.md": "# c",
		"src/d.go":  "package d",
	})

	files, err := List(root, Options{
		IncludeGlobs: []string{"*.go"},
		ExcludeGlobs: []string{"*_test.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "src/d.go"}, relNames(t, root, files))

	files, err = List(root, Options{IncludeGlobs: []string{"docs/*.md"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/c.md"}, relNames(t, root, files))
}

func TestListCapsFileSize(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.go": "package s",
		"big.go":   strings.Repeat("x", 1024),
	})

	files, err := List(root, Options{MaxFileSize: 512})
	require.NoError(t, err)
	assert.Equal(t, []string{"small.go"}, relNames(t, root, files))

	files, err = List(root, Options{MaxFileSize: -1})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFilterMatchesSingleEvents(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore": "*.tmp\n",
		"main.go":    "package main",
	})

	f, err := NewFilter(root, Options{IncludeGlobs: []string{"*.go"}})
	require.NoError(t, err)

	assert.True(t, f.Match(filepath.Join(root, "main.go"), false))
	assert.True(t, f.Match(filepath.Join(root, "pkg"), true))
	assert.False(t, f.Match(filepath.Join(root, "scratch.tmp"), false), "gitignored")
	assert.False(t, f.Match(filepath.Join(root, "notes.md"), false), "include glob miss")
	assert.False(t, f.Match(filepath.Join(root, ".git", "HEAD"), false), "inside skipped dir")
	assert.False(t, f.Match(filepath.Join(root, "node_modules", "x", "y.go"), false))
	assert.False(t, f.Match("/somewhere/else/main.go", false), "outside root")
}

func TestFilterIncludeHiddenDisablesDotRules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{".hidden.go": "package h"})

	f, err := NewFilter(root, Options{IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, f.Match(".hidden.go", false))

	files, err := List(root, Options{IncludeHidden: true})
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden.go"}, relNames(t, root, files))
}
