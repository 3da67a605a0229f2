package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingEmbedder wraps an Embedder with an in-memory LRU cache keyed by
// text content. Repeated queries (and re-ingested documents) skip the
// embedding backend. Safe for concurrent use.
type CachingEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachingEmbedder wraps inner with a cache holding up to size entries.
func NewCachingEmbedder(inner Embedder, size int) (*CachingEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

// EmbedText returns the cached vector when present, otherwise embeds and
// caches.
func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedTexts embeds only the texts missing from the cache and merges the
// results back in input order.
func (c *CachingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			result[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return result, nil
	}

	vectors, err := c.inner.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		i := missingIdx[j]
		result[i] = vec
		c.cache.Add(cacheKey(texts[i]), vec)
	}
	return result, nil
}

// Len reports the number of cached embeddings.
func (c *CachingEmbedder) Len() int {
	return c.cache.Len()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
