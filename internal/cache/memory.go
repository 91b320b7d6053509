package cache

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache is an in-memory cache with TTL support.
// Expired entries are dropped when read; RemoveExpired sweeps the rest.
type MemoryCache struct {
	cache *lru.Cache[string, *Entry]
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a new in-memory cache.
// A size of 0 means unbounded. A ttl of 0 expires entries immediately and a
// negative ttl disables expiry.
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	if size <= 0 {
		size = math.MaxInt
	}
	cache, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, err
	}

	return &MemoryCache{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// TTL returns the configured time-to-live
func (mc *MemoryCache) TTL() time.Duration {
	return mc.ttl
}

// Get implements Cache; the local cache never fails
func (mc *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	entry, ok := mc.Lookup(key)
	return entry, ok, nil
}

// Lookup retrieves a live entry, removing it if it has expired
func (mc *MemoryCache) Lookup(key string) (*Entry, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, ok := mc.cache.Get(key)
	if !ok {
		return nil, false
	}

	if mc.expired(entry, mc.now()) {
		mc.cache.Remove(key)
		return nil, false
	}

	return entry, true
}

// Set stores a response in the cache, stamped with the current time
func (mc *MemoryCache) Set(key string, headers http.Header, body []byte) {
	entry := &Entry{
		Headers:    headers.Clone(),
		Body:       body,
		CapturedAt: mc.now(),
	}

	mc.mu.Lock()
	mc.cache.Add(key, entry)
	mc.mu.Unlock()
}

// Clear removes every entry
func (mc *MemoryCache) Clear() {
	mc.mu.Lock()
	mc.cache.Purge()
	mc.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept
func (mc *MemoryCache) Len() int {
	return mc.cache.Len()
}

// RemoveExpired removes all expired entries and returns how many were dropped
func (mc *MemoryCache) RemoveExpired() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	removed := 0
	for _, key := range mc.cache.Keys() {
		entry, ok := mc.cache.Peek(key)
		if ok && mc.expired(entry, now) {
			mc.cache.Remove(key)
			removed++
		}
	}
	return removed
}

func (mc *MemoryCache) expired(entry *Entry, now time.Time) bool {
	if mc.ttl < 0 {
		return false
	}
	return now.Sub(entry.CapturedAt) >= mc.ttl
}
