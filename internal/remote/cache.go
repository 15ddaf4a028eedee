package remote

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is one cached list value with its fetch instant.
type entry struct {
	domains []string
	fetched time.Time
}

// listCache is an in-memory TTL cache for the denylist/allowlist reads
// of a single profile, per spec §4.2: "Any successful mutation call on
// a list invalidates that list's cache... A cache miss issues exactly
// one in-flight request even under concurrent callers (single-flight)."
type listCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry

	flight singleflight.Group
}

func newListCache(ttl time.Duration) *listCache {
	return &listCache{ttl: ttl, entries: make(map[string]entry)}
}

func (c *listCache) get(key string, fetch func() ([]string, error)) ([]string, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	fresh := ok && time.Since(e.fetched) < c.ttl
	c.mu.Unlock()
	if fresh {
		return e.domains, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		domains, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{domains: domains, fetched: time.Now()}
		c.mu.Unlock()
		return domains, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (c *listCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
