package storage

import (
	"context"
	"errors"
	"time"

	"github.com/semdex/semdex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("storage is closed")
)

// FileRecord is one indexed file.
type FileRecord struct {
	ID          int64
	Path        string // relative to the indexed root, forward slashes
	Fingerprint uint64 // xxhash64 of the file content
	SizeBytes   int64
	ModTime     time.Time
	IndexedAt   time.Time
}

// UnitRow is a persisted unit with its database identity.
type UnitRow struct {
	ID     int64
	FileID int64
	types.Unit
}

// EmbeddingRecord is one vector for one unit.
type EmbeddingRecord struct {
	UnitID    int64
	Vector    []float32
	Provider  string
	Model     string
	CreatedAt time.Time
}

// TextHit is a keyword search match.
type TextHit struct {
	Unit  UnitRow
	Score float64 // normalized, higher is better
}

// VectorHit is a similarity search match.
type VectorHit struct {
	Unit       UnitRow
	Similarity float64 // cosine similarity in [-1, 1]
}

// Stats summarizes the index contents.
type Stats struct {
	Files      int64
	Units      int64
	Embeddings int64
	SizeBytes  int64
	BuildMode  string
}

// Store is the persistence contract the rest of the system depends on.
// The SQLite implementation below is the only one shipped; the interface
// exists so tests can substitute collaborators.
type Store interface {
	// UpsertFile inserts or updates the record keyed by its Path and sets
	// the record's ID.
	UpsertFile(ctx context.Context, f *FileRecord) error
	// GetFile returns the record for a path, or ErrNotFound.
	GetFile(ctx context.Context, path string) (*FileRecord, error)
	// DeleteFile removes a file and all of its units and embeddings.
	DeleteFile(ctx context.Context, path string) error
	// ListFilePaths returns every indexed path in lexical order.
	ListFilePaths(ctx context.Context) ([]string, error)
	// DeleteFilesNotIn removes files whose path is absent from present
	// and returns how many were removed.
	DeleteFilesNotIn(ctx context.Context, present []string) (int, error)

	// ReplaceUnits atomically swaps a file's units for the given set.
	// Embeddings of unchanged stable IDs survive the swap.
	ReplaceUnits(ctx context.Context, fileID int64, units []types.Unit) error
	// UnitsByFile lists a file's units in line order.
	UnitsByFile(ctx context.Context, fileID int64) ([]UnitRow, error)
	// UnitsWithoutEmbedding returns up to limit units that have no vector
	// for the given provider and model.
	UnitsWithoutEmbedding(ctx context.Context, provider, model string, limit int) ([]UnitRow, error)

	// PutEmbedding stores or replaces the vector for a unit.
	PutEmbedding(ctx context.Context, e *EmbeddingRecord) error

	// SearchText runs keyword search over unit bodies and names.
	SearchText(ctx context.Context, query string, limit int) ([]TextHit, error)
	// SearchVector ranks units by cosine similarity to the query vector.
	SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorHit, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
