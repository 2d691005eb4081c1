package embedder

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrMissingCredential = errors.New("embedding provider credential not set")
)

// DefaultCacheSize bounds the embedding cache.
const DefaultCacheSize = 10000

// Embedder turns text into vectors.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of every vector this embedder produces.
	Dimension() int
	// Provider names the backing implementation.
	Provider() string
	// Model names the embedding model.
	Model() string

	// Close releases held resources.
	Close() error
}

// Cache memoizes vectors by content hash with LRU eviction.
type Cache struct {
	lru *lru.Cache[string, []float32]
}

// NewCache returns a cache holding up to size vectors.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		c, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{lru: c}
}

// Get returns a copy of the cached vector so callers cannot mutate the
// cached value.
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector under key.
func (c *Cache) Set(key string, v []float32) {
	c.lru.Add(key, v)
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int { return c.lru.Len() }

// cacheKey builds the cache key for one text under one model. xxhash is
// not cryptographic but the cache only needs collision resistance good
// enough for a code index.
func cacheKey(model, text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(model)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	return strconv.FormatUint(h.Sum64(), 16)
}

func validateBatch(texts []string, maxBatch int) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrEmptyText)
	}
	if maxBatch > 0 && len(texts) > maxBatch {
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(texts), maxBatch)
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}
	return nil
}
