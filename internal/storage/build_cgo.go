//go:build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag: mattn/go-sqlite3 with the
// sqlite-vec extension, vector similarity computed in SQL.
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver to open.
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether sqlite-vec is compiled in.
	VectorExtensionAvailable = true

	// BuildMode names the current build configuration.
	BuildMode = "cgo"
)
