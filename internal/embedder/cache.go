package embedder

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes single-text embeddings. Repeated questions skip
// the embedding round trip; batch calls (ingestion) are not cached.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps next with an LRU cache holding up to size vectors.
// A non-positive size disables caching and returns next unchanged.
func NewCachedEmbedder(next Embedder, size int) (Embedder, error) {
	if size <= 0 {
		return next, nil
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Embed returns a cached vector when present. Callers must not modify it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// EmbedBatch delegates to the wrapped embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}

// ModelName returns the wrapped model name.
func (c *CachedEmbedder) ModelName() string {
	return c.next.ModelName()
}

var _ Embedder = (*CachedEmbedder)(nil)
