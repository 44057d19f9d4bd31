package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings in a bounded ristretto cache.
//
// Entries are keyed by namespace and text, so providers with different
// models never share vectors. Returned slices are shared with the cache
// and must not be modified.
type CachedEmbedder struct {
	next      Provider
	namespace string
	cache     *ristretto.Cache
	metrics   *Metrics
}

// NewCachedEmbedder wraps next with a cache holding up to maxEntries
// vectors. The namespace is normally the embedding source.
func NewCachedEmbedder(next Provider, namespace string, maxEntries int) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive", ErrInvalidConfig)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedEmbedder{
		next:      next,
		namespace: namespace,
		cache:     cache,
		metrics:   NewMetrics(),
	}, nil
}

func (c *CachedEmbedder) key(kind, text string) string {
	return c.namespace + "\x00" + kind + "\x00" + text
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	c.metrics.RecordCacheLookup(ctx, c.namespace, ok)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

// EmbedDocuments returns cached vectors where present and embeds the rest
// in one call to the wrapped provider.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, text := range texts {
		if vec, ok := c.lookup(ctx, c.key("d", text)); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(missing))
	}
	for j, vec := range vectors {
		out[missingAt[j]] = vec
		c.cache.Set(c.key("d", missing[j]), vec, 1)
	}
	return out, nil
}

// EmbedQuery returns the cached query vector or embeds and caches it.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key("q", text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// Dimension returns the wrapped provider's dimension.
func (c *CachedEmbedder) Dimension() int {
	return c.next.Dimension()
}

// Close stops the cache and closes the wrapped provider.
func (c *CachedEmbedder) Close() error {
	c.cache.Close()
	return c.next.Close()
}
