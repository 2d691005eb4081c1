package types

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// UnitKind classifies a semantic unit extracted from a source file.
type UnitKind string

const (
	UnitFunction UnitKind = "function"
	UnitMethod   UnitKind = "method"
	UnitType     UnitKind = "type"
	UnitBlock    UnitKind = "block" // fixed-window chunk of a non-Go file
)

// Unit is a semantically meaningful section of a source file. It is the
// currency between the extraction layer, the storage engine, and search:
// extraction produces units, storage persists and embeds them, search
// returns them.
type Unit struct {
	// StableID identifies the unit across re-indexing runs. It is derived
	// from the file path, the kind, and either the declared name or a
	// digest of the window content, so an unchanged unit keeps its
	// identity even when surrounding code moves.
	StableID string

	Path string // relative to the indexed root, forward slashes
	Kind UnitKind
	Name string // declared name; empty for block units

	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive

	Body string
}

// StableUnitID builds the canonical stable identifier for a named unit.
func StableUnitID(path string, kind UnitKind, name string) string {
	return fmt.Sprintf("%s:%s:%s", path, kind, name)
}

// BlockStableID builds the identifier for a windowed block unit from a
// digest of the window's content rather than its line range, so a window
// whose text is unchanged keeps its identity when edits elsewhere in the
// file shift its position. ordinal separates identical windows within
// one file.
func BlockStableID(path, body string, ordinal int) string {
	digest := xxhash.Sum64String(body)
	if ordinal > 0 {
		return fmt.Sprintf("%s:%s:%016x.%d", path, UnitBlock, digest, ordinal)
	}
	return fmt.Sprintf("%s:%s:%016x", path, UnitBlock, digest)
}

// Validate checks structural invariants of the unit.
func (u *Unit) Validate() error {
	if u.StableID == "" {
		return ErrMissingStableID
	}
	if u.Path == "" {
		return ErrMissingPath
	}
	if u.Body == "" {
		return ErrEmptyBody
	}
	if u.StartLine <= 0 || u.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if u.StartLine > u.EndLine {
		return errors.New("start line must not exceed end line")
	}
	switch u.Kind {
	case UnitFunction, UnitMethod, UnitType, UnitBlock:
	default:
		return fmt.Errorf("unknown unit kind %q", u.Kind)
	}
	return nil
}
