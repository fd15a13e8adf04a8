package artifact

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is the in-process fallback used when no Redis URL is
// configured. Entries honor the same TTL as the Redis cache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	url       string
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", ErrNotFound
	}
	return e.url, nil
}

func (c *MemoryCache) Put(_ context.Context, key, videoURL string) error {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{url: videoURL, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Ping(context.Context) error { return ErrNotConfigured }

func (c *MemoryCache) Close() error { return nil }

// NewCache creates a Redis-backed cache when redisURL is set, otherwise an
// in-process one.
func NewCache(redisURL string, ttl time.Duration) (Cache, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewMemoryCache(ttl), nil
	}
	return NewRedisCache(redisURL, ttl)
}
