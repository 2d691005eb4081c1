package embedder

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	ProviderLocal = "local"

	LocalModel     = "hash-v1"
	LocalDimension = 256
)

// LocalProvider derives vectors from the text itself: each dimension is
// seeded by hashing the text with a different salt. The result is
// deterministic, unit-length, and needs no network, so two identical
// code units always land on the same point and cosine ranking stays
// stable across runs. It captures no semantics; it exists as the
// zero-configuration default and for reproducible tests.
type LocalProvider struct {
	cache *Cache
}

// NewLocalProvider builds the deterministic provider.
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{cache: cache}, nil
}

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cacheKey(LocalModel, text)
	if l.cache != nil {
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
	}

	vector := hashVector(text)
	if l.cache != nil {
		l.cache.Set(key, vector)
	}
	return vector, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateBatch(texts, 0); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func hashVector(text string) []float32 {
	vector := make([]float32, LocalDimension)
	var norm float64
	salt := [1]byte{0}
	for i := range vector {
		salt[0] = byte(i)
		h := xxhash.New()
		_, _ = h.Write(salt[:])
		_, _ = h.WriteString(text)
		// Map the 64-bit hash onto [-1, 1).
		vector[i] = float32(int64(h.Sum64())) / float32(math.MaxInt64)
		norm += float64(vector[i]) * float64(vector[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}

func (l *LocalProvider) Dimension() int   { return LocalDimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return LocalModel }
func (l *LocalProvider) Close() error     { return nil }
