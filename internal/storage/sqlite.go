package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/semdex/semdex/pkg/types"
)

// SQLite implements Store on a single SQLite database file.
type SQLite struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var _ Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers; a single connection because SQLite
	// wants one writer and the scheduler already serializes mutations.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path the store was opened with.
func (s *SQLite) Path() string { return s.path }

// Close releases the database handle. Safe to call more than once.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) conn() (*sql.DB, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db, nil
}

// File operations

func (s *SQLite) UpsertFile(ctx context.Context, f *FileRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO files (path, fingerprint, size_bytes, mod_time, indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	if f.IndexedAt.IsZero() {
		f.IndexedAt = now
	}
	err = db.QueryRowContext(ctx, query,
		f.Path, int64(f.Fingerprint), f.SizeBytes, f.ModTime, f.IndexedAt, now, now).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", f.Path, err)
	}
	return nil
}

func (s *SQLite) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, path, fingerprint, size_bytes, mod_time, indexed_at
		FROM files WHERE path = ?
	`
	var f FileRecord
	var fp int64
	var modTime, indexedAt sql.NullTime
	err = db.QueryRowContext(ctx, query, path).Scan(
		&f.ID, &f.Path, &fp, &f.SizeBytes, &modTime, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	f.Fingerprint = uint64(fp)
	if modTime.Valid {
		f.ModTime = modTime.Time
	}
	if indexedAt.Valid {
		f.IndexedAt = indexedAt.Time
	}
	return &f, nil
}

func (s *SQLite) DeleteFile(ctx context.Context, path string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListFilePaths(ctx context.Context) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT path FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLite) DeleteFilesNotIn(ctx context.Context, present []string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	keep := make(map[string]struct{}, len(present))
	for _, p := range present {
		keep[p] = struct{}{}
	}
	indexed, err := s.ListFilePaths(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, p := range indexed {
		if _, ok := keep[p]; !ok {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", p); err != nil {
			return 0, fmt.Errorf("failed to delete stale file %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Unit operations

func (s *SQLite) ReplaceUnits(ctx context.Context, fileID int64, units []types.Unit) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Remove units whose stable ID is gone; updating survivors in place
	// keeps their embeddings (embeddings cascade on unit deletion only).
	incoming := make(map[string]struct{}, len(units))
	for i := range units {
		incoming[units[i].StableID] = struct{}{}
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, stable_id FROM units WHERE file_id = ?", fileID)
	if err != nil {
		return fmt.Errorf("failed to list existing units: %w", err)
	}
	var gone []int64
	for rows.Next() {
		var id int64
		var stableID string
		if err := rows.Scan(&id, &stableID); err != nil {
			_ = rows.Close()
			return err
		}
		if _, ok := incoming[stableID]; !ok {
			gone = append(gone, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, id := range gone {
		if _, err := tx.ExecContext(ctx, "DELETE FROM units WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete unit %d: %w", id, err)
		}
	}

	upsert := `
		INSERT INTO units (file_id, stable_id, kind, name, start_line, end_line, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, stable_id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			body = excluded.body
	`
	for i := range units {
		u := &units[i]
		if err := u.Validate(); err != nil {
			return fmt.Errorf("invalid unit %s: %w", u.StableID, err)
		}
		if _, err := tx.ExecContext(ctx, upsert,
			fileID, u.StableID, string(u.Kind), u.Name, u.StartLine, u.EndLine, u.Body); err != nil {
			return fmt.Errorf("failed to upsert unit %s: %w", u.StableID, err)
		}
	}
	return tx.Commit()
}

const unitColumns = "u.id, u.file_id, u.stable_id, u.kind, u.name, u.start_line, u.end_line, u.body"

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func unitKind(kind string) types.UnitKind { return types.UnitKind(kind) }

func scanUnitRow(scan func(dest ...any) error) (UnitRow, error) {
	var r UnitRow
	var kind string
	err := scan(&r.ID, &r.FileID, &r.StableID, &kind, &r.Name, &r.StartLine, &r.EndLine, &r.Body)
	r.Kind = types.UnitKind(kind)
	return r, err
}

func (s *SQLite) UnitsByFile(ctx context.Context, fileID int64) ([]UnitRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + unitColumns + " FROM units u WHERE u.file_id = ? ORDER BY u.start_line, u.stable_id"
	rows, err := db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectUnitRows(rows)
}

func (s *SQLite) UnitsWithoutEmbedding(ctx context.Context, provider, model string, limit int) ([]UnitRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + unitColumns + ` FROM units u
		LEFT JOIN embeddings e ON e.unit_id = u.id AND e.provider = ? AND e.model = ?
		WHERE e.id IS NULL
		ORDER BY u.id
		LIMIT ?`
	rows, err := db.QueryContext(ctx, query, provider, model, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list units without embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectUnitRows(rows)
}

func collectUnitRows(rows *sql.Rows) ([]UnitRow, error) {
	var out []UnitRow
	for rows.Next() {
		r, err := scanUnitRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Embedding operations

func (s *SQLite) PutEmbedding(ctx context.Context, e *EmbeddingRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("empty vector for unit %d", e.UnitID)
	}
	query := `
		INSERT INTO embeddings (unit_id, vector, dimension, provider, model)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
	`
	_, err = db.ExecContext(ctx, query,
		e.UnitID, serializeVector(e.Vector), len(e.Vector), e.Provider, e.Model)
	if err != nil {
		return fmt.Errorf("failed to store embedding for unit %d: %w", e.UnitID, err)
	}
	return nil
}

// Stats

func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	st := &Stats{BuildMode: BuildMode}
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM files", &st.Files},
		{"SELECT COUNT(*) FROM units", &st.Units},
		{"SELECT COUNT(*) FROM embeddings", &st.Embeddings},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to read index stats: %w", err)
		}
	}
	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			st.SizeBytes = pageCount * pageSize
		}
	}
	return st, nil
}

// sortHitsByScore keeps result ordering deterministic when scores tie.
func sortHitsByScore[T any](hits []T, score func(T) float64, id func(T) int64) {
	sort.SliceStable(hits, func(i, j int) bool {
		si, sj := score(hits[i]), score(hits[j])
		if si != sj {
			return si > sj
		}
		return id(hits[i]) < id(hits[j])
	})
}
