package cache

import (
	"testing"
	"time"

	"github.com/wudi/stablegate/internal/config"
)

func TestSetAndGet(t *testing.T) {
	c := New(config.CacheConfig{MaxSize: 10, TTL: time.Hour})
	c.Set("k", &Entry{Data: []byte("v")})

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(entry.Data) != "v" {
		t.Fatalf("expected data %q, got %q", "v", entry.Data)
	}
	if c.Stats().Hits != 1 || c.Stats().Sets != 1 {
		t.Fatalf("unexpected stats: %+v", c.Stats())
	}
}

func TestGetMissRecorded(t *testing.T) {
	c := New(config.CacheConfig{MaxSize: 10, TTL: time.Hour})
	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss for absent key")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", c.Stats().Misses)
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(config.CacheConfig{MaxSize: 10, TTL: 10 * time.Millisecond})
	c.Set("k", &Entry{Data: []byte("v")})
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to have expired")
	}
	if c.Stats().Expirations != 1 {
		t.Fatalf("expected 1 expiration, got %d", c.Stats().Expirations)
	}
}

func TestPruneDropsExpiredEntries(t *testing.T) {
	c := New(config.CacheConfig{MaxSize: 10, TTL: 10 * time.Millisecond})
	c.Set("k1", &Entry{Data: []byte("v1")})
	c.Set("k2", &Entry{Data: []byte("v2")})
	time.Sleep(20 * time.Millisecond)

	c.Prune()
	if c.Stats().Expirations != 2 {
		t.Fatalf("expected prune to record 2 expirations, got %d", c.Stats().Expirations)
	}
}

func TestHitRate(t *testing.T) {
	s := Stats{Hits: 3, Misses: 1}
	if rate := s.HitRate(); rate != 75 {
		t.Fatalf("expected hit rate 75, got %v", rate)
	}
	if (Stats{}).HitRate() != 0 {
		t.Fatal("expected hit rate 0 with no lookups")
	}
}

func TestPurgeClearsCache(t *testing.T) {
	c := New(config.CacheConfig{MaxSize: 10, TTL: time.Hour})
	c.Set("k", &Entry{Data: []byte("v")})
	c.Purge()
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected Purge to remove all entries")
	}
}
