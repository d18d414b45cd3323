package cache

// FunctionCache wraps Cache for caching the result of an arbitrary
// function call keyed by a caller-supplied string key instead of an HTTP
// request fingerprint (spec §8, FunctionCacheManager — "analogous" to the
// response cache's persisted-state schema).
type FunctionCache struct {
	cache *Cache
}

// NewFunctionCache creates a FunctionCache sharing Cache's TTL/LRU
// semantics.
func NewFunctionCache(c *Cache) *FunctionCache {
	return &FunctionCache{cache: c}
}

// Execute returns the cached result for key if present and unexpired;
// otherwise it calls fn, caches the result, and returns it.
func (f *FunctionCache) Execute(key string, fn func() ([]byte, error)) ([]byte, error) {
	if entry, ok := f.cache.Get(key); ok {
		return entry.Data, nil
	}
	data, err := fn()
	if err != nil {
		return nil, err
	}
	f.cache.Set(key, &Entry{Data: data})
	return data, nil
}

// Stats returns the underlying cache's statistics.
func (f *FunctionCache) Stats() Stats {
	return f.cache.Stats()
}
