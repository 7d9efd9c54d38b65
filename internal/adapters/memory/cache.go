package memory

import (
	"context"
	"sync"
	"time"
)

// Cache is a process-local CacheProvider used when Redis is disabled
type Cache struct {
	mu     sync.Mutex
	claims map[string]time.Time // zero means no expiry
	now    func() time.Time
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{claims: map[string]time.Time{}, now: time.Now}
}

func (c *Cache) Claim(_ context.Context, key, _ string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if expiresAt, ok := c.claims[key]; ok && (expiresAt.IsZero() || c.now().Before(expiresAt)) {
		return false, nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.claims[key] = expiresAt
	return true, nil
}

func (c *Cache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
	return nil
}
