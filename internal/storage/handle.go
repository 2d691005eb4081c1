package storage

import (
	"context"
	"sync"

	"github.com/semdex/semdex/pkg/types"
)

// Handle wraps a SQLite store so the database file can be released and
// reacquired while the process keeps running. A server yielding the
// database to another process calls Suspend, which waits for in-flight
// operations and closes the file; operations arriving while suspended
// block until Resume reopens it. Close unblocks everything with
// ErrClosed.
type Handle struct {
	path string

	mu        sync.Mutex
	cond      *sync.Cond
	db        *SQLite
	suspended bool
	closed    bool
	inflight  sync.WaitGroup
}

// OpenHandle opens the database and wraps it in a Handle.
func OpenHandle(path string) (*Handle, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	h := &Handle{path: path, db: db}
	h.cond = sync.NewCond(&h.mu)
	return h, nil
}

// Path returns the database file location.
func (h *Handle) Path() string { return h.path }

// Suspend closes the database file after in-flight operations finish.
// Idempotent. Operations submitted after Suspend block until Resume.
// Suspending a closed handle reports ErrClosed.
func (h *Handle) Suspend() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.suspended {
		h.mu.Unlock()
		return nil
	}
	h.suspended = true
	db := h.db
	h.db = nil
	h.mu.Unlock()

	h.inflight.Wait()
	return db.Close()
}

// Resume reopens the database and releases blocked operations.
func (h *Handle) Resume() error {
	db, err := Open(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = db.Close()
		return ErrClosed
	}
	h.db = db
	h.suspended = false
	h.cond.Broadcast()
	return nil
}

// Suspended reports whether the database file is currently released.
func (h *Handle) Suspended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspended
}

// Close shuts the store down permanently, failing blocked and future
// operations with ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	db := h.db
	h.db = nil
	h.cond.Broadcast()
	h.mu.Unlock()

	h.inflight.Wait()
	if db != nil {
		return db.Close()
	}
	return nil
}

// acquire waits out a suspension and pins the underlying store for one
// operation. The caller must invoke the returned release func.
func (h *Handle) acquire() (*SQLite, func(), error) {
	h.mu.Lock()
	for h.suspended && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrClosed
	}
	db := h.db
	h.inflight.Add(1)
	h.mu.Unlock()
	return db, func() { h.inflight.Done() }, nil
}

func (h *Handle) UpsertFile(ctx context.Context, f *FileRecord) error {
	db, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return db.UpsertFile(ctx, f)
}

func (h *Handle) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.GetFile(ctx, path)
}

func (h *Handle) DeleteFile(ctx context.Context, path string) error {
	db, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return db.DeleteFile(ctx, path)
}

func (h *Handle) ListFilePaths(ctx context.Context) ([]string, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.ListFilePaths(ctx)
}

func (h *Handle) DeleteFilesNotIn(ctx context.Context, present []string) (int, error) {
	db, release, err := h.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return db.DeleteFilesNotIn(ctx, present)
}

func (h *Handle) ReplaceUnits(ctx context.Context, fileID int64, units []types.Unit) error {
	db, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return db.ReplaceUnits(ctx, fileID, units)
}

func (h *Handle) UnitsByFile(ctx context.Context, fileID int64) ([]UnitRow, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.UnitsByFile(ctx, fileID)
}

func (h *Handle) UnitsWithoutEmbedding(ctx context.Context, provider, model string, limit int) ([]UnitRow, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.UnitsWithoutEmbedding(ctx, provider, model, limit)
}

func (h *Handle) PutEmbedding(ctx context.Context, e *EmbeddingRecord) error {
	db, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return db.PutEmbedding(ctx, e)
}

func (h *Handle) SearchText(ctx context.Context, query string, limit int) ([]TextHit, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.SearchText(ctx, query, limit)
}

func (h *Handle) SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorHit, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.SearchVector(ctx, vector, limit)
}

func (h *Handle) Stats(ctx context.Context) (*Stats, error) {
	db, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.Stats(ctx)
}
