package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/vjranagit/empe/pkg/types"
)

func testRequest(band string) types.EnvelopeRequest {
	return types.EnvelopeRequest{
		Model:  "powerlaw",
		TMin:   0.5,
		TMax:   20,
		Band:   band,
		Draws:  100,
		Points: 200,
		Low:    0.4,
		High:   0.6,
		Seed:   1,
		Fixed:  map[string]float64{"dist": 40, "slope": 2},
	}
}

func TestEnvelopeCache(t *testing.T) {
	cache := NewEnvelopeCache(100, 1*time.Minute)
	key := EnvelopeKey("run-a", testRequest("g"))

	// Test cache miss
	if _, ok := cache.Get(key); ok {
		t.Error("Expected cache miss, got hit")
	}

	env := types.Envelope{
		Model: "powerlaw",
		Band:  "g",
		Draws: 100,
		Times: []float64{1, 10},
		Min:   []float64{17, 19},
		Max:   []float64{18, 20},
	}
	cache.Put(key, env)

	cached, ok := cache.Get(key)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if cached.Max[1] != 20 {
		t.Errorf("Expected max 20, got %f", cached.Max[1])
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate() != 50.0 {
		t.Errorf("Expected hit rate 50, got %f", stats.HitRate())
	}
}

func TestEnvelopeKey(t *testing.T) {
	base := EnvelopeKey("run-a", testRequest("g"))

	// Map iteration order and worker count must not change the key
	for i := 0; i < 10; i++ {
		req := testRequest("g")
		req.Workers = i
		if EnvelopeKey("run-a", req) != base {
			t.Fatal("Expected stable key")
		}
	}

	variants := map[string]func(*types.EnvelopeRequest){
		"band":  func(r *types.EnvelopeRequest) { r.Band = "r" },
		"tmax":  func(r *types.EnvelopeRequest) { r.TMax = 21 },
		"seed":  func(r *types.EnvelopeRequest) { r.Seed = 2 },
		"low":   func(r *types.EnvelopeRequest) { r.Low = 0.3 },
		"draws": func(r *types.EnvelopeRequest) { r.Draws = 50 },
		"fixed": func(r *types.EnvelopeRequest) { r.Fixed["dist"] = 41 },
		"extra": func(r *types.EnvelopeRequest) { r.Fixed["m0"] = -15 },
	}
	for name, mutate := range variants {
		req := testRequest("g")
		mutate(&req)
		if EnvelopeKey("run-a", req) == base {
			t.Errorf("Expected %s to change the key", name)
		}
	}

	if EnvelopeKey("run-b", testRequest("g")) == base {
		t.Error("Expected run ID to change the key")
	}
}

func TestEnvelopeCacheTTL(t *testing.T) {
	// Short TTL for testing
	cache := NewEnvelopeCache(100, 100*time.Millisecond)
	key := EnvelopeKey("run-a", testRequest("g"))

	cache.Put(key, types.Envelope{})

	if _, ok := cache.Get(key); !ok {
		t.Error("Expected cache hit")
	}

	// Wait for expiry
	time.Sleep(150 * time.Millisecond)

	if stats := cache.Stats(); stats.Expired != 1 {
		t.Errorf("Expected 1 expired entry, got %d", stats.Expired)
	}

	if _, ok := cache.Get(key); ok {
		t.Error("Expected cache miss after TTL expiry")
	}

	if cache.Size() != 0 {
		t.Errorf("Expected expired entry to be removed, size %d", cache.Size())
	}
}

func TestEnvelopeCacheLRUEviction(t *testing.T) {
	// Small cache for testing eviction
	cache := NewEnvelopeCache(3, 1*time.Minute)

	for i := 0; i < 4; i++ {
		cache.Put(EnvelopeKey(fmt.Sprintf("run-%d", i), testRequest("g")), types.Envelope{})
	}

	// Cache should have 3 entries (oldest evicted)
	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}

	if _, ok := cache.Get(EnvelopeKey("run-0", testRequest("g"))); ok {
		t.Error("Expected run-0 to be evicted")
	}

	if _, ok := cache.Get(EnvelopeKey("run-3", testRequest("g"))); !ok {
		t.Error("Expected run-3 to be in cache")
	}
}

func TestEnvelopeCacheRecentlyUsedSurvives(t *testing.T) {
	cache := NewEnvelopeCache(2, 1*time.Minute)
	k1 := EnvelopeKey("run-1", testRequest("g"))
	k2 := EnvelopeKey("run-2", testRequest("g"))
	k3 := EnvelopeKey("run-3", testRequest("g"))

	cache.Put(k1, types.Envelope{})
	cache.Put(k2, types.Envelope{})
	cache.Get(k1)
	cache.Put(k3, types.Envelope{})

	if _, ok := cache.Get(k1); !ok {
		t.Error("Expected recently used entry to survive")
	}
	if _, ok := cache.Get(k2); ok {
		t.Error("Expected least recently used entry to be evicted")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewEnvelopeCache(100, 1*time.Minute)

	stats := cache.Stats()
	if stats.Size != 0 {
		t.Errorf("Expected initial size 0, got %d", stats.Size)
	}
	if stats.HitRate() != 0 {
		t.Errorf("Expected zero hit rate, got %f", stats.HitRate())
	}

	for i := 0; i < 10; i++ {
		cache.Put(EnvelopeKey("run", testRequest(fmt.Sprintf("band-%d", i))), types.Envelope{})
	}

	stats = cache.Stats()
	if stats.Size != 10 {
		t.Errorf("Expected size 10, got %d", stats.Size)
	}

	if stats.Capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", stats.Capacity)
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", cache.Size())
	}
}
