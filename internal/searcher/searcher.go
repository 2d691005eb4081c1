package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/pkg/types"
)

// Mode selects the ranking strategy.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
)

const (
	DefaultLimit    = 10
	MaxLimit        = 100
	DefaultCacheTTL = time.Hour
	defaultRRFK     = 60.0
	cacheEntries    = 1000
)

var (
	ErrEmptyQuery          = errors.New("query cannot be empty")
	ErrUnknownMode         = errors.New("unknown search mode")
	ErrSemanticUnavailable = errors.New("semantic search requires an embedding provider")
)

// Request describes one query.
type Request struct {
	Query    string
	Limit    int           // default DefaultLimit, capped at MaxLimit
	Mode     Mode          // default ModeHybrid
	UseCache bool          // serve and populate the response cache
	CacheTTL time.Duration // default DefaultCacheTTL
}

// Response carries ranked results plus how they were produced.
type Response struct {
	Results    []types.SearchResult
	Mode       Mode
	Duration   time.Duration
	CacheHit   bool
	VectorHits int // raw similarity matches before fusion
	TextHits   int // raw keyword matches before fusion
}

type cacheEntry struct {
	response  Response
	expiresAt time.Time
}

// Searcher runs queries against the store, embedding them first when
// the mode calls for it.
type Searcher struct {
	store storage.Store
	embed embedder.Embedder // nil restricts modes to keyword

	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
}

// New builds a Searcher. embed may be nil, in which case semantic and
// hybrid requests degrade to keyword ranking.
func New(store storage.Store, embed embedder.Embedder) *Searcher {
	cache, _ := lru.New[string, cacheEntry](cacheEntries)
	return &Searcher{store: store, embed: embed, cache: cache}
}

// Search runs one query. Hybrid mode tolerates one side failing as
// long as the other produced results.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := normalize(&req); err != nil {
		return nil, err
	}

	key := cacheKey(req)
	if req.UseCache {
		if resp, ok := s.cached(key); ok {
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	var resp *Response
	var err error
	switch req.Mode {
	case ModeHybrid:
		resp, err = s.hybrid(ctx, req)
	case ModeSemantic:
		resp, err = s.semantic(ctx, req)
	case ModeKeyword:
		resp, err = s.keyword(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Mode = req.Mode
	resp.Duration = time.Since(start)
	if req.UseCache && len(resp.Results) > 0 {
		s.remember(key, *resp, req.CacheTTL)
	}
	return resp, nil
}

// InvalidateCache drops every cached response. Called after index
// content changes.
func (s *Searcher) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

type ranked struct {
	unit  storage.UnitRow
	score float64
}

func (s *Searcher) keyword(ctx context.Context, req Request) (*Response, error) {
	hits, err := s.store.SearchText(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	rankedHits := make([]ranked, len(hits))
	for i, h := range hits {
		rankedHits[i] = ranked{unit: h.Unit, score: h.Score}
	}
	return &Response{Results: toResults(rankedHits, req.Limit), TextHits: len(hits)}, nil
}

func (s *Searcher) semantic(ctx context.Context, req Request) (*Response, error) {
	hits, err := s.vectorHits(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	rankedHits := make([]ranked, len(hits))
	for i, h := range hits {
		rankedHits[i] = ranked{unit: h.Unit, score: h.Similarity}
	}
	return &Response{Results: toResults(rankedHits, req.Limit), VectorHits: len(hits)}, nil
}

func (s *Searcher) hybrid(ctx context.Context, req Request) (*Response, error) {
	if s.embed == nil {
		resp, err := s.keyword(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	// Overfetch both sides so fusion has enough candidates.
	fetch := req.Limit * 2

	var (
		wg      sync.WaitGroup
		vecHits []storage.VectorHit
		txtHits []storage.TextHit
		vecErr  error
		txtErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vecHits, vecErr = s.vectorHits(ctx, req.Query, fetch)
	}()
	go func() {
		defer wg.Done()
		txtHits, txtErr = s.store.SearchText(ctx, req.Query, fetch)
	}()
	wg.Wait()

	if vecErr != nil && txtErr != nil {
		return nil, fmt.Errorf("hybrid search failed: vector: %w; text: %v", vecErr, txtErr)
	}

	fused := fuse(vecHits, txtHits, defaultRRFK)
	return &Response{
		Results:    toResults(fused, req.Limit),
		VectorHits: len(vecHits),
		TextHits:   len(txtHits),
	}, nil
}

func (s *Searcher) vectorHits(ctx context.Context, query string, limit int) ([]storage.VectorHit, error) {
	if s.embed == nil {
		return nil, ErrSemanticUnavailable
	}
	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := s.store.SearchVector(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

// fuse combines the two rankings with Reciprocal Rank Fusion:
// score(u) = sum over rankings of 1/(k + rank).
func fuse(vecHits []storage.VectorHit, txtHits []storage.TextHit, k float64) []ranked {
	scores := make(map[int64]float64)
	units := make(map[int64]storage.UnitRow)

	for i, h := range vecHits {
		scores[h.Unit.ID] += 1.0 / (k + float64(i+1))
		units[h.Unit.ID] = h.Unit
	}
	for i, h := range txtHits {
		scores[h.Unit.ID] += 1.0 / (k + float64(i+1))
		units[h.Unit.ID] = h.Unit
	}

	fused := make([]ranked, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, ranked{unit: units[id], score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].unit.ID < fused[j].unit.ID
	})
	return fused
}

func toResults(hits []ranked, limit int) []types.SearchResult {
	if limit > len(hits) {
		limit = len(hits)
	}
	results := make([]types.SearchResult, 0, limit)
	for i := 0; i < limit; i++ {
		results = append(results, types.SearchResult{
			Rank:  i + 1,
			Score: hits[i].score,
			Unit:  hits[i].unit.Unit,
		})
	}
	return results
}

func normalize(req *Request) error {
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

func cacheKey(req Request) string {
	h := xxhash.New()
	_, _ = h.WriteString(req.Query)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(req.Mode))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.Itoa(req.Limit))
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Searcher) cached(key string) (*Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false
	}
	resp := entry.response
	resp.Results = append([]types.SearchResult(nil), entry.response.Results...)
	return &resp, true
}

func (s *Searcher) remember(key string, resp Response, ttl time.Duration) {
	resp.Results = append([]types.SearchResult(nil), resp.Results...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, cacheEntry{response: resp, expiresAt: time.Now().Add(ttl)})
}
