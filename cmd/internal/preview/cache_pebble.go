package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// PebbleCache is a Cache persisted in a local pebble database. Cached
// previews survive restarts, which matters because the TTL (24h) is much
// longer than a typical deploy interval.
type PebbleCache struct {
	db *pebble.DB
}

type cacheEntry struct {
	FetchedAt time.Time `json:"fetched_at"`
	Preview   Preview   `json:"preview"`
}

// OpenPebbleCache opens (or creates) the cache database at path.
func OpenPebbleCache(path string) (*PebbleCache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open preview cache: %w", err)
	}
	return &PebbleCache{db: db}, nil
}

// Close closes the underlying database.
func (c *PebbleCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *PebbleCache) Get(key string) (Preview, time.Time, bool, error) {
	value, closer, err := c.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Preview{}, time.Time{}, false, nil
	}
	if err != nil {
		return Preview{}, time.Time{}, false, err
	}
	defer func() { _ = closer.Close() }()

	var e cacheEntry
	if err := json.Unmarshal(value, &e); err != nil {
		// A corrupt entry is treated as a miss; the next Put overwrites it.
		return Preview{}, time.Time{}, false, nil
	}
	return e.Preview, e.FetchedAt, true, nil
}

func (c *PebbleCache) Put(key string, p Preview, fetchedAt time.Time) error {
	data, err := json.Marshal(cacheEntry{FetchedAt: fetchedAt, Preview: p})
	if err != nil {
		return err
	}
	// NoSync: losing a cache write on crash only costs a refetch.
	return c.db.Set([]byte(key), data, pebble.NoSync)
}

func (c *PebbleCache) Delete(key string) error {
	return c.db.Delete([]byte(key), pebble.NoSync)
}
