package preview

import (
	"sync"
	"time"
)

// MemoryCache is a Cache for dev and tests. Entries do not survive the
// process; TTL policy is still enforced by the Service.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewMemoryCache constructs an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

func (c *MemoryCache) Get(key string) (Preview, time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Preview{}, time.Time{}, false, nil
	}
	return e.Preview, e.FetchedAt, true, nil
}

func (c *MemoryCache) Put(key string, p Preview, fetchedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{FetchedAt: fetchedAt, Preview: p}
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Close() error { return nil }
