package nellebot

import (
	"strings"
	"sync"
	"time"
)

const (
	cacheKeyGreetingMessage   = "GreetingMessage"
	cacheKeyQuarantineMessage = "QuarantineMessage"
	cacheKeyGoodbyeMessages   = "GoodbyeMessages"
	cacheKeyDiscordChannel    = "DiscordChannel_"
)

type cacheEntry struct {
	value   any
	expires time.Time
}

// SharedCache is an in-memory cache of values loaded from the database
// or the Discord API, each with its own expiry.
type SharedCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewSharedCache() *SharedCache {
	return &SharedCache{entries: map[string]cacheEntry{}, now: time.Now}
}

func (c *SharedCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *SharedCache) set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
}

// Flush removes the entry for key
func (c *SharedCache) Flush(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// FlushPrefix removes every entry whose key starts with prefix. An
// empty prefix flushes everything.
func (c *SharedCache) FlushPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *SharedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// loadFromCache returns the cached value for key, or calls loader
// and caches its result for ttl. Loader errors aren't cached.
// Concurrent misses may each call loader.
func loadFromCache[T any](
	c *SharedCache,
	key string,
	ttl time.Duration,
	loader func() (T, error),
) (T, error) {
	if v, ok := c.get(key); ok {
		if tv, ok := v.(T); ok {
			return tv, nil
		}
	}
	v, err := loader()
	if err != nil {
		return v, err
	}
	c.set(key, v, ttl)
	return v, nil
}
