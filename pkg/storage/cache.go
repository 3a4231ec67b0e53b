package storage

import (
	"container/list"
	"encoding/binary"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/vjranagit/empe/pkg/types"
)

// EnvelopeCache is an LRU cache of synthesized envelopes with a TTL
type EnvelopeCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[uint64]*cacheEntry
	lru      *list.List
	hits     uint64
	misses   uint64
}

// cacheEntry represents a cached envelope
type cacheEntry struct {
	key       uint64
	envelope  types.Envelope
	timestamp time.Time
	element   *list.Element
}

// NewEnvelopeCache creates a new envelope cache
func NewEnvelopeCache(capacity int, ttl time.Duration) *EnvelopeCache {
	return &EnvelopeCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[uint64]*cacheEntry),
		lru:      list.New(),
	}
}

// EnvelopeKey fingerprints everything that determines an envelope of a run.
// Workers is left out since it does not change the result.
func EnvelopeKey(runID string, req types.EnvelopeRequest) uint64 {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, runID)
	buf = appendString(buf, req.Model)
	buf = appendString(buf, req.Band)
	for _, f := range []float64{req.TMin, req.TMax, req.Low, req.High} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(req.Draws))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(req.Points))
	buf = binary.LittleEndian.AppendUint64(buf, req.Seed)

	names := make([]string, 0, len(req.Fixed))
	for name := range req.Fixed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf = appendString(buf, name)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(req.Fixed[name]))
	}

	return xxh3.Hash(buf)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Get retrieves a cached envelope
func (c *EnvelopeCache) Get(key uint64) (types.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.cache[key]
	if !exists {
		c.misses++
		return types.Envelope{}, false
	}

	// Check if entry has expired
	if time.Since(entry.timestamp) > c.ttl {
		c.removeLocked(key)
		c.misses++
		return types.Envelope{}, false
	}

	// Move to front of LRU list (most recently used)
	c.lru.MoveToFront(entry.element)
	c.hits++

	return entry.envelope, true
}

// Put stores an envelope in the cache
func (c *EnvelopeCache) Put(key uint64, env types.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.cache[key]; exists {
		entry.envelope = env
		entry.timestamp = time.Now()
		c.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       key,
		envelope:  env,
		timestamp: time.Now(),
	}
	entry.element = c.lru.PushFront(entry)
	c.cache[key] = entry

	// Evict oldest entry if cache is full
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

// removeLocked removes an entry from the cache (must hold lock)
func (c *EnvelopeCache) removeLocked(key uint64) {
	if entry, exists := c.cache[key]; exists {
		c.lru.Remove(entry.element)
		delete(c.cache, key)
	}
}

// Clear clears all cache entries
func (c *EnvelopeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[uint64]*cacheEntry)
	c.lru = list.New()
}

// Size returns the current cache size
func (c *EnvelopeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Stats returns cache statistics
func (c *EnvelopeCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := 0
	for _, entry := range c.cache {
		if time.Since(entry.timestamp) > c.ttl {
			expired++
		}
	}

	return CacheStats{
		Size:     len(c.cache),
		Capacity: c.capacity,
		Expired:  expired,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int
	Capacity int
	Expired  int
	Hits     uint64
	Misses   uint64
}

// HitRate returns the cache hit rate as a percentage
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}
