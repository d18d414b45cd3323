package cache

import (
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wudi/stablegate/internal/config"
)

// Entry is a single cached response (spec §4.6).
type Entry struct {
	Data       []byte
	StatusCode int
	Headers    map[string]string
	StoredAt   time.Time
}

// Stats mirrors the statistics named in spec §4.6.
type Stats struct {
	Hits       int64
	Misses     int64
	Sets       int64
	Evictions  int64
	Expirations int64
}

// HitRate returns hits/(hits+misses)*100, or 0 when there have been no
// lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Cache is a TTL+LRU response cache keyed by request fingerprint.
type Cache struct {
	lru *expirable.LRU[string, *Entry]
	ttl time.Duration

	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// New creates a Cache from a CacheConfig.
func New(cfg config.CacheConfig) *Cache {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 300000 * time.Millisecond
	}
	c := &Cache{ttl: ttl}
	c.lru = expirable.NewLRU[string, *Entry](maxSize, func(key string, value *Entry) {
		if time.Since(value.StoredAt) >= ttl {
			c.expirations.Add(1)
		} else {
			c.evictions.Add(1)
		}
	}, ttl)
	return c
}

// Get looks up key, reporting a miss both when absent and when expired;
// both count toward Misses. Expirations are tracked via the eviction
// callback, which counts a removed entry whose age has reached the TTL as
// an expiration and any other removal as an eviction. expirable.LRU hides
// an entry past its TTL from Get without removing it, so Get removes such
// an entry itself.
func (c *Cache) Get(key string) (*Entry, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		if c.lru.Contains(key) {
			c.lru.Remove(key)
		}
		c.misses.Add(1)
		return nil, false
	}
	if time.Since(entry.StoredAt) >= c.ttl {
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry, true
}

// Set stores entry under key.
func (c *Cache) Set(key string, entry *Entry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	c.lru.Add(key, entry)
	c.sets.Add(1)
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.lru.Remove(key)
}

// Purge clears the cache entirely.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Prune drops the entries whose StoredAt age has reached the TTL, per spec
// §4.6's prune(). Entries already past the LRU's own expiry are hidden
// from Keys and are removed by the LRU's background cleanup, not by this
// loop.
func (c *Cache) Prune() {
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if time.Since(entry.StoredAt) >= c.ttl {
			c.lru.Remove(key)
		}
	}
}

// Stats returns a point-in-time snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}
