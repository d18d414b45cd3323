package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/wudi/stablegate/internal/config"
)

func TestFunctionCacheCallsFnOnlyOnce(t *testing.T) {
	fc := NewFunctionCache(New(config.CacheConfig{MaxSize: 10, TTL: time.Hour}))
	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	for i := 0; i < 3; i++ {
		data, err := fc.Execute("k", fn)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "result" {
			t.Fatalf("expected cached result, got %q", data)
		}
	}
	if calls != 1 {
		t.Fatalf("expected fn to run once and be served from cache afterward, ran %d times", calls)
	}
}

func TestFunctionCacheDoesNotCacheErrors(t *testing.T) {
	fc := NewFunctionCache(New(config.CacheConfig{MaxSize: 10, TTL: time.Hour}))
	_, err := fc.Execute("k", func() ([]byte, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if fc.Stats().Sets != 0 {
		t.Fatal("expected a failed call to not populate the cache")
	}
}
