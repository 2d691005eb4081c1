package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the command tree with the given arguments and returns
// captured stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupProject(t *testing.T) (root, db string) {
	t.Helper()
	root = t.TempDir()
	db = filepath.Join(t.TempDir(), "index.db")

	source := `package demo

// LoadSettings parses the yaml configuration file.
func LoadSettings(path string) error {
	return nil
}

// FlushCache drops every cached entry.
func FlushCache() {}
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo.go"), []byte(source), 0o644))
	return root, db
}

func TestIndexCommand(t *testing.T) {
	root, db := setupProject(t)

	out, err := run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 1")
	assert.Contains(t, out, "2 units")
}

func TestIndexIsIncremental(t *testing.T) {
	root, db := setupProject(t)

	_, err := run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 0")
	assert.Contains(t, out, "up to date 1")
}

func TestSearchCommandKeyword(t *testing.T) {
	root, db := setupProject(t)

	_, err := run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "search", "yaml", "configuration", "--root", root, "--db", db,
		"--mode", "keyword", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "LoadSettings")
	assert.Contains(t, out, "demo.go")
}

func TestSearchCommandHybrid(t *testing.T) {
	root, db := setupProject(t)

	_, err := run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "search", "drops every cached entry", "--root", root, "--db", db,
		"--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "FlushCache")
}

func TestSearchEmptyIndex(t *testing.T) {
	root, db := setupProject(t)

	_, err := run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "search", "zzzqqqxxx", "--root", root, "--db", db,
		"--mode", "keyword", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "no results")
}

func TestStatusCommand(t *testing.T) {
	root, db := setupProject(t)

	out, err := run(t, "status", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "server: not running")
	assert.Contains(t, out, "not created yet")

	_, err = run(t, "index", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)

	out, err = run(t, "status", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "files: 1")
	assert.Contains(t, out, "units: 2")
}

func TestSkipEmbeddingsFlag(t *testing.T) {
	root, db := setupProject(t)

	_, err := run(t, "index", "--root", root, "--db", db, "--skip-embeddings", "--log-level", "error")
	require.NoError(t, err)

	out, err := run(t, "status", "--root", root, "--db", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "embeddings: 0")
}

func TestBadRootFails(t *testing.T) {
	_, err := run(t, "index", "--root", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not accessible") || os.IsNotExist(err))
}
