package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semdex/semdex/pkg/types"
)

const sampleGo = `package sample

import "context"

// Server coordinates the things.
type Server struct {
	name string
}

// Start begins serving.
func (s *Server) Start(ctx context.Context) error {
	return nil
}

// Hello greets.
func Hello(name string) string {
	return "hi " + name
}
`

func TestGoFileYieldsDeclarationUnits(t *testing.T) {
	e := New()
	units, err := e.Units("internal/sample/server.go", []byte(sampleGo))
	require.NoError(t, err)
	require.Len(t, units, 3)

	byName := map[string]types.Unit{}
	for _, u := range units {
		require.NoError(t, u.Validate())
		assert.Equal(t, "internal/sample/server.go", u.Path)
		byName[u.Name] = u
	}

	srv := byName["Server"]
	assert.Equal(t, types.UnitType, srv.Kind)
	assert.Contains(t, srv.Body, "// Server coordinates the things.")
	assert.Contains(t, srv.Body, "name string")

	start := byName["Server.Start"]
	assert.Equal(t, types.UnitMethod, start.Kind)
	assert.Contains(t, start.Body, "func (s *Server) Start(ctx context.Context) error")
	assert.Equal(t, "internal/sample/server.go:method:Server.Start", start.StableID)

	hello := byName["Hello"]
	assert.Equal(t, types.UnitFunction, hello.Kind)
	assert.Contains(t, hello.Body, "// Hello greets.")
	assert.Greater(t, hello.StartLine, start.EndLine)
}

func TestGroupedTypeDeclarations(t *testing.T) {
	src := `package sample

type (
	// Alpha is first.
	Alpha struct{ A int }
	Beta  struct{ B int }
)
`
	units, err := New().Units("group.go", []byte(src))
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "Alpha", units[0].Name)
	assert.Contains(t, units[0].Body, "// Alpha is first.")
	assert.Equal(t, "Beta", units[1].Name)
	assert.NotContains(t, units[1].Body, "Alpha struct")
}

func TestBrokenGoFallsBackToBlocks(t *testing.T) {
	src := "package broken\n\nfunc Oops( {\n\tnot go at all\n"
	units, err := New().Units("broken.go", []byte(src))
	require.NoError(t, err)
	require.NotEmpty(t, units)
	for _, u := range units {
		assert.Equal(t, types.UnitBlock, u.Kind)
	}
}

func TestNonGoFileIsWindowed(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 250; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}

	units, err := NewWithWindow(100, 20).Units("notes.md", []byte(b.String()))
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, 1, units[0].StartLine)
	assert.Equal(t, 100, units[0].EndLine)
	assert.Equal(t, 81, units[1].StartLine)
	assert.Equal(t, 180, units[1].EndLine)
	assert.Equal(t, 161, units[2].StartLine)
	assert.Equal(t, 250, units[2].EndLine)

	// Overlap: the boundary line appears in both neighbors.
	assert.Contains(t, units[0].Body, "line 90")
	assert.Contains(t, units[1].Body, "line 90")
	assert.Equal(t, types.BlockStableID("notes.md", units[1].Body, 0), units[1].StableID)
}

func TestBlockIdentityFollowsContent(t *testing.T) {
	numbered := func(changed int) string {
		var b strings.Builder
		for i := 1; i <= 250; i++ {
			if i == changed {
				fmt.Fprintf(&b, "line %d edited\n", i)
				continue
			}
			fmt.Fprintf(&b, "line %d\n", i)
		}
		return b.String()
	}

	e := NewWithWindow(100, 20)
	before, err := e.Units("notes.md", []byte(numbered(0)))
	require.NoError(t, err)
	after, err := e.Units("notes.md", []byte(numbered(200)))
	require.NoError(t, err)
	require.Len(t, before, 3)
	require.Len(t, after, 3)

	// Windows the edit never touched keep their identity.
	assert.Equal(t, before[0].StableID, after[0].StableID)
	assert.Equal(t, before[1].StableID, after[1].StableID)

	// The window whose text changed gets a new identity even though its
	// line range is the same, so its stale vector cannot survive.
	assert.Equal(t, before[2].StartLine, after[2].StartLine)
	assert.Equal(t, before[2].EndLine, after[2].EndLine)
	assert.NotEqual(t, before[2].StableID, after[2].StableID)
}

func TestIdenticalWindowsGetDistinctIDs(t *testing.T) {
	units, err := NewWithWindow(2, 0).Units("dup.txt", []byte("x\ny\nx\ny\n"))
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, units[0].Body, units[1].Body)
	assert.NotEqual(t, units[0].StableID, units[1].StableID)
	assert.Equal(t, types.BlockStableID("dup.txt", units[0].Body, 0), units[0].StableID)
	assert.Equal(t, types.BlockStableID("dup.txt", units[1].Body, 1), units[1].StableID)
}

func TestBinaryContentIsRejected(t *testing.T) {
	content := []byte("ELF\x00\x01\x02\x03binary")
	require.True(t, IsBinary(content))

	units, err := New().Units("bin/tool", content)
	assert.ErrorIs(t, err, ErrBinaryFile)
	assert.Nil(t, units)
}

func TestBlankContentYieldsNothing(t *testing.T) {
	units, err := New().Units("empty.txt", []byte("  \n\t\n"))
	require.NoError(t, err)
	assert.Empty(t, units)
}
