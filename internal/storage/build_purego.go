//go:build purego || !sqlite_vec

package storage

// Compiled without CGO or with the purego tag: pure Go SQLite, no
// sqlite-vec extension, vector similarity computed in Go.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver to open.
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether sqlite-vec is compiled in.
	VectorExtensionAvailable = false

	// BuildMode names the current build configuration.
	BuildMode = "purego"
)
