// Package types contains the domain types shared across semdex packages:
// semantic units extracted from source files, per-file processing outcomes,
// and search results.
//
// The types here are deliberately free of storage or transport concerns so
// that extraction, indexing, and search can evolve independently.
package types
