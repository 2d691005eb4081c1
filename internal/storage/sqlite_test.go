package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semdex/semdex/pkg/types"
)

func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testUnit(path string, kind types.UnitKind, name string, start, end int, body string) types.Unit {
	return types.Unit{
		StableID:  types.StableUnitID(path, kind, name),
		Path:      path,
		Kind:      kind,
		Name:      name,
		StartLine: start,
		EndLine:   end,
		Body:      body,
	}
}

func insertFileWithUnits(t *testing.T, s *SQLite, path string, fp uint64, units ...types.Unit) *FileRecord {
	t.Helper()
	ctx := context.Background()
	f := &FileRecord{Path: path, Fingerprint: fp, SizeBytes: 100, ModTime: time.Now()}
	require.NoError(t, s.UpsertFile(ctx, f))
	require.NoError(t, s.ReplaceUnits(ctx, f.ID, units))
	return f
}

func TestUpsertFileAssignsAndKeepsID(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	f := &FileRecord{Path: "pkg/a.go", Fingerprint: 42}
	require.NoError(t, s.UpsertFile(ctx, f))
	assert.Greater(t, f.ID, int64(0))

	again := &FileRecord{Path: "pkg/a.go", Fingerprint: 43}
	require.NoError(t, s.UpsertFile(ctx, again))
	assert.Equal(t, f.ID, again.ID, "same path keeps its row")

	got, err := s.GetFile(ctx, "pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, uint64(43), got.Fingerprint)
}

func TestFingerprintRoundTripsLargeValues(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	// Values above 1<<63 must survive the signed INTEGER column.
	f := &FileRecord{Path: "big.go", Fingerprint: ^uint64(0) - 7}
	require.NoError(t, s.UpsertFile(ctx, f))

	got, err := s.GetFile(ctx, "big.go")
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0)-7, got.Fingerprint)
}

func TestGetFileNotFound(t *testing.T) {
	s := setupTestDB(t)
	_, err := s.GetFile(context.Background(), "missing.go")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFileCascades(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	u := testUnit("del.go", types.UnitFunction, "F", 1, 3, "func F() {}")
	f := insertFileWithUnits(t, s, "del.go", 1, u)

	rows, err := s.UnitsByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		UnitID: rows[0].ID, Vector: []float32{1, 0}, Provider: "local", Model: "m",
	}))

	require.NoError(t, s.DeleteFile(ctx, "del.go"))
	assert.ErrorIs(t, s.DeleteFile(ctx, "del.go"), ErrNotFound)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Files)
	assert.Zero(t, st.Units)
	assert.Zero(t, st.Embeddings)
}

func TestDeleteFilesNotIn(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	insertFileWithUnits(t, s, "keep.go", 1, testUnit("keep.go", types.UnitFunction, "K", 1, 2, "func K() {}"))
	insertFileWithUnits(t, s, "gone.go", 2, testUnit("gone.go", types.UnitFunction, "G", 1, 2, "func G() {}"))
	insertFileWithUnits(t, s, "also_gone.go", 3)

	removed, err := s.DeleteFilesNotIn(ctx, []string{"keep.go"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	paths, err := s.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.go"}, paths)
}

func TestReplaceUnitsKeepsEmbeddingsOfSurvivors(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	keep := testUnit("r.go", types.UnitFunction, "Keep", 1, 5, "func Keep() {}")
	drop := testUnit("r.go", types.UnitFunction, "Drop", 7, 9, "func Drop() {}")
	f := insertFileWithUnits(t, s, "r.go", 1, keep, drop)

	rows, err := s.UnitsByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
			UnitID: r.ID, Vector: []float32{1, 2, 3}, Provider: "local", Model: "m",
		}))
	}

	// Keep survives with a new body, Drop disappears, New arrives.
	keep.Body = "func Keep() { /* changed */ }"
	added := testUnit("r.go", types.UnitType, "New", 11, 13, "type New struct{}")
	require.NoError(t, s.ReplaceUnits(ctx, f.ID, []types.Unit{keep, added}))

	rows, err = s.UnitsByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Keep", rows[0].Name)
	assert.Contains(t, rows[0].Body, "changed")
	assert.Equal(t, "New", rows[1].Name)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Embeddings, "survivor keeps its vector, dropped unit loses it")

	missing, err := s.UnitsWithoutEmbedding(ctx, "local", "m", 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "New", missing[0].Name)
}

func TestSearchTextRanksMatches(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	insertFileWithUnits(t, s, "srv.go", 1,
		testUnit("srv.go", types.UnitFunction, "StartServer", 1, 10,
			"func StartServer() { listen and serve the server }"),
		testUnit("srv.go", types.UnitFunction, "ParseConfig", 12, 20,
			"func ParseConfig() { read yaml }"),
	)

	hits, err := s.SearchText(ctx, "server", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "StartServer", hits[0].Unit.Name)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.LessOrEqual(t, hits[0].Score, 1.0)
}

func TestSearchTextNeutralizesOperators(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	insertFileWithUnits(t, s, "q.go", 1,
		testUnit("q.go", types.UnitFunction, "F", 1, 2, "boring body"))

	// Raw FTS5 operators and punctuation must not produce query errors.
	for _, q := range []string{`a AND b`, `"unbalanced`, `col:value`, `(group)`, `wild*`} {
		_, err := s.SearchText(ctx, q, 5)
		assert.NoError(t, err, "query %q", q)
	}

	_, err := s.SearchText(ctx, "   ", 5)
	assert.Error(t, err, "blank query is rejected")
}

func TestSearchVectorOrdersBySimilarity(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	f := insertFileWithUnits(t, s, "v.go", 1,
		testUnit("v.go", types.UnitFunction, "A", 1, 2, "a"),
		testUnit("v.go", types.UnitFunction, "B", 3, 4, "b"),
		testUnit("v.go", types.UnitFunction, "C", 5, 6, "c"),
	)
	rows, err := s.UnitsByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	vectors := map[string][]float32{
		"A": {1, 0, 0},
		"B": {0.9, 0.1, 0},
		"C": {0, 1, 0},
	}
	for _, r := range rows {
		require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
			UnitID: r.ID, Vector: vectors[r.Name], Provider: "local", Model: "m",
		}))
	}

	hits, err := s.SearchVector(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "A", hits[0].Unit.Name)
	assert.Equal(t, "B", hits[1].Unit.Name)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestSearchVectorSkipsMismatchedDimensions(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	f := insertFileWithUnits(t, s, "dim.go", 1,
		testUnit("dim.go", types.UnitFunction, "Short", 1, 2, "s"),
		testUnit("dim.go", types.UnitFunction, "Long", 3, 4, "l"),
	)
	rows, err := s.UnitsByFile(ctx, f.ID)
	require.NoError(t, err)
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		UnitID: rows[0].ID, Vector: []float32{1, 0}, Provider: "local", Model: "m",
	}))
	require.NoError(t, s.PutEmbedding(ctx, &EmbeddingRecord{
		UnitID: rows[1].ID, Vector: []float32{1, 0, 0}, Provider: "local", Model: "m",
	}))

	hits, err := s.SearchVector(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Short", hits[0].Unit.Name)
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.25e-5}
	out := DeserializeVector(SerializeVector(in))
	assert.Equal(t, in, out)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}), "length mismatch")
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}), "zero norm")
}

func TestClosedStoreRefusesOperations(t *testing.T) {
	s := setupTestDB(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close is safe")

	_, err := s.GetFile(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Stats(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatsReportsBuildMode(t *testing.T) {
	s := setupTestDB(t)
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BuildMode, st.BuildMode)
	assert.GreaterOrEqual(t, st.SizeBytes, int64(0))
}
