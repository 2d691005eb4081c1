package searcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/pkg/types"
)

type seedUnit struct {
	name string
	body string
}

// newSeededSearcher stores one file with the given units, embeds each
// body with the deterministic local provider, and returns a Searcher
// over the result.
func newSeededSearcher(t *testing.T, units []seedUnit) (*Searcher, storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embed, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
	require.NoError(t, err)

	ctx := context.Background()
	file := &storage.FileRecord{Path: "src/code.go", Fingerprint: 1}
	require.NoError(t, store.UpsertFile(ctx, file))

	typesUnits := make([]types.Unit, len(units))
	for i, u := range units {
		start := i*10 + 1
		typesUnits[i] = types.Unit{
			StableID:  types.StableUnitID("src/code.go", types.UnitFunction, u.name),
			Path:      "src/code.go",
			Kind:      types.UnitFunction,
			Name:      u.name,
			StartLine: start,
			EndLine:   start + 5,
			Body:      u.body,
		}
	}
	require.NoError(t, store.ReplaceUnits(ctx, file.ID, typesUnits))

	rows, err := store.UnitsByFile(ctx, file.ID)
	require.NoError(t, err)
	for _, row := range rows {
		vector, err := embed.Embed(ctx, row.Body)
		require.NoError(t, err)
		require.NoError(t, store.PutEmbedding(ctx, &storage.EmbeddingRecord{
			UnitID:   row.ID,
			Vector:   vector,
			Provider: embed.Provider(),
			Model:    embed.Model(),
		}))
	}
	return New(store, embed), store
}

var corpus = []seedUnit{
	{"ParseConfig", "func ParseConfig reads yaml configuration files and applies environment overrides"},
	{"OpenDatabase", "func OpenDatabase connects to sqlite storage with write ahead logging"},
	{"RetryBackoff", "func RetryBackoff retries transient network failures with exponential delays"},
}

func TestKeywordSearchRanksMatchingUnit(t *testing.T) {
	s, _ := newSeededSearcher(t, corpus)

	resp, err := s.Search(context.Background(), Request{Query: "sqlite storage", Mode: ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "OpenDatabase", resp.Results[0].Unit.Name)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, ModeKeyword, resp.Mode)
	assert.False(t, resp.CacheHit)
}

func TestSemanticSearchFindsIdenticalText(t *testing.T) {
	s, _ := newSeededSearcher(t, corpus)

	// The local provider maps identical text to identical vectors, so
	// querying with a stored body must rank that unit first.
	resp, err := s.Search(context.Background(), Request{
		Query: corpus[2].body,
		Mode:  ModeSemantic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "RetryBackoff", resp.Results[0].Unit.Name)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-4)
}

func TestHybridSearchFusesBothRankings(t *testing.T) {
	s, _ := newSeededSearcher(t, corpus)

	resp, err := s.Search(context.Background(), Request{Query: corpus[0].body, Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ParseConfig", resp.Results[0].Unit.Name)
	assert.Positive(t, resp.VectorHits)
	assert.Positive(t, resp.TextHits)

	// RRF scores are sums of reciprocal ranks, bounded by 2/(k+1).
	assert.LessOrEqual(t, resp.Results[0].Score, 2.0/(defaultRRFK+1))
}

func TestHybridWithoutEmbedderDegradesToKeyword(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	file := &storage.FileRecord{Path: "a.go", Fingerprint: 1}
	require.NoError(t, store.UpsertFile(ctx, file))
	require.NoError(t, store.ReplaceUnits(ctx, file.ID, []types.Unit{{
		StableID: "a.go:function:Only", Path: "a.go", Kind: types.UnitFunction,
		Name: "Only", StartLine: 1, EndLine: 2, Body: "func Only handles keyword fallback",
	}}))

	s := New(store, nil)
	resp, err := s.Search(ctx, Request{Query: "keyword fallback"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Only", resp.Results[0].Unit.Name)
}

func TestSemanticWithoutEmbedderFails(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := New(store, nil)
	_, err = s.Search(context.Background(), Request{Query: "anything", Mode: ModeSemantic})
	assert.ErrorIs(t, err, ErrSemanticUnavailable)
}

func TestRequestValidation(t *testing.T) {
	s, _ := newSeededSearcher(t, corpus)

	_, err := s.Search(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(context.Background(), Request{Query: "x", Mode: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestCacheServesRepeatedQueries(t *testing.T) {
	s, _ := newSeededSearcher(t, corpus)
	req := Request{Query: "sqlite storage", Mode: ModeKeyword, UseCache: true}

	first, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)

	s.InvalidateCache()
	third, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}

func TestCacheEntriesExpire(t *testing.T) {
	s, _ := newSeededSearcher(t, corpus)
	req := Request{Query: "sqlite storage", Mode: ModeKeyword, UseCache: true, CacheTTL: 20 * time.Millisecond}

	_, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestFuseMergesDuplicateUnits(t *testing.T) {
	unit := storage.UnitRow{ID: 7, Unit: types.Unit{Name: "Shared"}}
	other := storage.UnitRow{ID: 9, Unit: types.Unit{Name: "VectorOnly"}}

	fused := fuse(
		[]storage.VectorHit{{Unit: unit, Similarity: 0.9}, {Unit: other, Similarity: 0.5}},
		[]storage.TextHit{{Unit: unit, Score: 0.8}},
		defaultRRFK,
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "Shared", fused[0].unit.Name)
	assert.InDelta(t, 1.0/(defaultRRFK+1)+1.0/(defaultRRFK+1), fused[0].score, 1e-9)
}
