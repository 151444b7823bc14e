package replicate

import (
	"context"
	"sync"
	"time"
)

// cachingMSClient wraps an MSClient with a short-lived cache of each
// RG's resolved content URL (spec §4, "Per-RG content URL caching"):
// a pure optimization over calling MSClient on every begin(), not
// observable by Engine callers. ListRGIDs is never cached — RG
// membership changes are meant to be seen immediately.
type cachingMSClient struct {
	inner MSClient
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	url     string
	expires time.Time
}

func newCachingMSClient(inner MSClient, ttl time.Duration) MSClient {
	if ttl <= 0 {
		return inner
	}
	return &cachingMSClient{inner: inner, ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *cachingMSClient) ListRGIDs(ctx context.Context, volumeID uint64) ([]string, error) {
	return c.inner.ListRGIDs(ctx, volumeID)
}

func (c *cachingMSClient) RGContentURL(ctx context.Context, rgID string) (string, error) {
	now := time.Now()
	c.mu.Lock()
	if e, ok := c.entries[rgID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.url, nil
	}
	c.mu.Unlock()

	url, err := c.inner.RGContentURL(ctx, rgID)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.entries[rgID] = cacheEntry{url: url, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return url, nil
}
