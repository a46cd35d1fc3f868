package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docqa/internal/cache"
)

// CachedEmbedder memoizes vectors in a cache.Store keyed by model and text.
// Cache failures are logged and fall through to the wrapped Embedder.
type CachedEmbedder struct {
	next      Embedder
	store     cache.Store
	namespace string
	ttl       time.Duration
}

func NewCachedEmbedder(next Embedder, store cache.Store, namespace string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, store: store, namespace: namespace, ttl: ttl}
}

func (c *CachedEmbedder) Dimension() int { return c.next.Dimension() }

func (c *CachedEmbedder) Ping(ctx context.Context) error { return c.next.Ping(ctx) }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	raw, err := c.store.Get(ctx, key)
	if err == nil {
		cached, derr := cache.DecodeVector(raw)
		if derr == nil && len(cached) == c.next.Dimension() {
			return cached, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("embedding cache read failed", "error", err)
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, cache.EncodeVector(vec), c.ttl); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}
