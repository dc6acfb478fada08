package client

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	"github.com/golang/groupcache/lru"
)

// CacheEntry is a cached result set.
type CacheEntry struct {
	Key       string
	Value     *ResultSet
	ExpiresAt time.Time
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Expired   int64
	Evictions int64
	Size      int
}

// HitRate returns hits / (hits + misses), or 0 when nothing was looked up.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CacheStore is a time-bounded result cache keyed by statement text and
// parameters. Expired entries are dropped lazily on read. When maxEntries is
// positive the least recently used entry is evicted on overflow.
type CacheStore struct {
	mu         sync.Mutex
	index      *lru.Cache
	defaultTTL time.Duration
	now        func() time.Time
	// removing suppresses eviction counting for explicit removals.
	removing bool

	hits      atomic.Int64
	misses    atomic.Int64
	expired   atomic.Int64
	evictions atomic.Int64
}

// NewCacheStore creates a cache store. A nil clock uses time.Now.
func NewCacheStore(defaultTTL time.Duration, maxEntries int, now func() time.Time) *CacheStore {
	if now == nil {
		now = time.Now
	}
	s := &CacheStore{
		index:      lru.New(maxEntries),
		defaultTTL: defaultTTL,
		now:        now,
	}
	s.index.OnEvicted = func(lru.Key, interface{}) {
		if !s.removing {
			s.evictions.Add(1)
		}
	}
	return s
}

// CacheKey derives the deterministic cache key of a statement. Each part is
// written as type, byte length and bytes, so no two (text, params) pairs share
// a key. Parameters are first converted the way database/sql converts them,
// which reads through pointers and driver.Valuer implementations.
func CacheKey(stmt Statement) string {
	var b strings.Builder
	writeKeyPart(&b, stmt.Text)
	for _, p := range stmt.Params {
		v, err := driver.DefaultParameterConverter.ConvertValue(p)
		if err != nil {
			v = p
		}
		writeKeyPart(&b, v)
	}
	return b.String()
}

func writeKeyPart(b *strings.Builder, v interface{}) {
	var s string
	switch x := v.(type) {
	case nil:
	case string:
		s = x
	case []byte:
		s = string(x)
	case time.Time:
		s = x.UTC().Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(x)
	}
	fmt.Fprintf(b, "%T:%d:", v, len(s))
	b.WriteString(s)
}

func hashKey(key string) uint64 {
	return xxhash.Sum64([]byte(key))
}

// Get returns the live entry for key. An entry with now >= ExpiresAt is
// removed and reported as a miss.
func (s *CacheStore) Get(key string) (*ResultSet, bool) {
	h := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.index.Get(h)
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	entry := v.(*CacheEntry)
	if entry.Key != key {
		// Hash collision; the other key owns the slot.
		s.misses.Add(1)
		return nil, false
	}
	if !s.now().Before(entry.ExpiresAt) {
		s.removeLocked(h)
		s.expired.Add(1)
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return entry.Value, true
}

// Set stores value under key. A non-positive ttl uses the store default.
// Concurrent writers of the same key are last-write-wins.
func (s *CacheStore) Set(key string, value *ResultSet, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Add(hashKey(key), &CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: s.now().Add(ttl),
	})
}

// Delete removes key if present.
func (s *CacheStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(hashKey(key))
}

func (s *CacheStore) removeLocked(h uint64) {
	s.removing = true
	s.index.Remove(h)
	s.removing = false
}

// Clear drops every entry and returns how many were dropped.
func (s *CacheStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.index.Len()
	s.removing = true
	s.index.Clear()
	s.removing = false
	return n
}

// Len returns the number of stored entries, including expired ones not yet read.
func (s *CacheStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// Stats returns a snapshot of cache counters.
func (s *CacheStore) Stats() CacheStats {
	return CacheStats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Expired:   s.expired.Load(),
		Evictions: s.evictions.Load(),
		Size:      s.Len(),
	}
}
