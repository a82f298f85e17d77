package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached memoizes embeddings by text. Queries and passages are cached under
// separate keys because asymmetric models embed them differently.
type Cached struct {
	next  Provider
	cache *cache.Cache
}

// NewCached wraps next with an expiring in-memory cache.
func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

func cacheKey(kind, text string) string {
	sum := sha256.Sum256([]byte(text))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// EmbedDocuments returns cached vectors and embeds only the misses, in one
// batch.
func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(cacheKey("d", t)); ok {
			out[i] = v.([]float32)
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(missTexts))
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.cache.Set(cacheKey("d", missTexts[j]), v, cache.DefaultExpiration)
	}
	return out, nil
}

// EmbedQuery returns a cached query vector or embeds and caches it.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	key := cacheKey("q", text)
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}
	v, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, v, cache.DefaultExpiration)
	return v, nil
}

func (c *Cached) Dimension() int { return c.next.Dimension() }

// Close flushes the cache and closes the wrapped provider.
func (c *Cached) Close() error {
	c.cache.Flush()
	return c.next.Close()
}
