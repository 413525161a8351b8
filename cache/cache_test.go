package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/schedulekit/constraints/constraint"
)

func testConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             time.Minute,
		MaxSize:         10,
		CleanupInterval: 0, // sweeps are driven manually in tests
		AdaptiveTTL:     false,
	}
}

func satisfiedResult(id string) *constraint.EvaluationResult {
	return &constraint.EvaluationResult{
		ConstraintID: id,
		Satisfied:    true,
		Violations:   []constraint.Violation{},
		Metadata:     map[string]any{},
	}
}

func TestCacheSetGet(t *testing.T) {
	c := NewResultCache(testConfig(), nil)
	sc := constraint.Context{"rounds": 3}

	if res := c.Get("c1", sc); res != nil {
		t.Fatal("Get() on empty cache should miss")
	}

	c.Set("c1", sc, satisfiedResult("c1"))

	res := c.Get("c1", sc)
	if res == nil {
		t.Fatal("Get() after Set() should hit")
	}
	if res.ConstraintID != "c1" || !res.Satisfied {
		t.Errorf("unexpected cached result: %+v", res)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", stats.Hits, stats.Misses)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewResultCache(testConfig(), nil)
	sc := constraint.Context{"rounds": 3}
	c.Set("c1", sc, satisfiedResult("c1"))

	first := c.Get("c1", sc)
	first.Satisfied = false
	first.Metadata["patched"] = true

	second := c.Get("c1", sc)
	if !second.Satisfied {
		t.Error("mutating a returned result must not change the cached copy")
	}
	if _, ok := second.Metadata["patched"]; ok {
		t.Error("mutating returned metadata must not change the cached copy")
	}
}

func TestCacheExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = 10 * time.Millisecond
	c := NewResultCache(cfg, nil)
	sc := constraint.Context{"rounds": 3}

	c.Set("c1", sc, satisfiedResult("c1"))
	time.Sleep(20 * time.Millisecond)

	// Expired before any sweep ran; the read itself must drop it.
	if res := c.Get("c1", sc); res != nil {
		t.Error("expired entry must never be returned")
	}

	stats := c.Stats()
	if stats.Expirations != 1 {
		t.Errorf("Expirations = %d, want 1", stats.Expirations)
	}
	if stats.Entries != 0 {
		t.Errorf("Entries = %d, want 0", stats.Entries)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewResultCache(testConfig(), nil)

	for i := 0; i < 10; i++ {
		sc := constraint.Context{"n": i}
		c.Set(fmt.Sprintf("c%d", i), sc, satisfiedResult(fmt.Sprintf("c%d", i)))
		time.Sleep(time.Millisecond)
	}

	// Freshen c0 so c1 becomes the least recently used.
	if res := c.Get("c0", constraint.Context{"n": 0}); res == nil {
		t.Fatal("c0 should be cached")
	}
	time.Sleep(time.Millisecond)

	c.Set("c10", constraint.Context{"n": 10}, satisfiedResult("c10"))

	stats := c.Stats()
	if stats.Entries > 10 {
		t.Errorf("Entries = %d, exceeds max size 10", stats.Entries)
	}
	if stats.Evictions < 1 {
		t.Errorf("Evictions = %d, want at least 1", stats.Evictions)
	}
	if res := c.Get("c1", constraint.Context{"n": 1}); res != nil {
		t.Error("least-recently-used entry c1 should have been evicted")
	}
	if res := c.Get("c0", constraint.Context{"n": 0}); res == nil {
		t.Error("recently used entry c0 should have survived eviction")
	}
}

func TestCacheAdaptiveTTL(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveTTL = true
	c := NewResultCache(cfg, nil)
	sc := constraint.Context{"rounds": 3}
	c.Set("c1", sc, satisfiedResult("c1"))

	// Cross the warm threshold; the entry's expiry moves past the base TTL.
	for i := 0; i < warmAccessThreshold+1; i++ {
		if res := c.Get("c1", sc); res == nil {
			t.Fatalf("Get() missed on access %d", i)
		}
	}

	entries := c.Export()
	if len(entries) != 1 {
		t.Fatalf("Export() returned %d entries, want 1", len(entries))
	}
	if lifetime := entries[0].ExpiresAt.Sub(entries[0].CreatedAt); lifetime <= cfg.TTL {
		t.Errorf("hot entry lifetime = %s, want more than base TTL %s", lifetime, cfg.TTL)
	}
}

func TestCacheDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewResultCache(cfg, nil)
	sc := constraint.Context{"rounds": 3}

	c.Set("c1", sc, satisfiedResult("c1"))
	if res := c.Get("c1", sc); res != nil {
		t.Error("disabled cache must never return a result")
	}
	if n := c.Invalidate("c1", sc); n != 0 {
		t.Errorf("Invalidate() on disabled cache = %d, want 0", n)
	}

	stats := c.Stats()
	if stats.Entries != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("disabled cache recorded activity: %+v", stats)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewResultCache(testConfig(), nil)
	scA := constraint.Context{"n": 1}
	scB := constraint.Context{"n": 2}
	c.Set("c1", scA, satisfiedResult("c1"))
	c.Set("c1", scB, satisfiedResult("c1"))
	c.Set("c2", scA, satisfiedResult("c2"))

	t.Run("Exact pair", func(t *testing.T) {
		if n := c.Invalidate("c1", scA); n != 1 {
			t.Errorf("Invalidate(c1, scA) = %d, want 1", n)
		}
		if c.Get("c1", scB) == nil {
			t.Error("other contexts for c1 should survive")
		}
	})

	t.Run("All contexts for id", func(t *testing.T) {
		if n := c.Invalidate("c1", nil); n != 1 {
			t.Errorf("Invalidate(c1, nil) = %d, want 1", n)
		}
		if c.Get("c2", scA) == nil {
			t.Error("entries for other constraints should survive")
		}
	})

	t.Run("Everything", func(t *testing.T) {
		if n := c.Invalidate("", nil); n != 1 {
			t.Errorf("Invalidate(all) = %d, want 1", n)
		}
		if got := c.Stats().Entries; got != 0 {
			t.Errorf("Entries = %d, want 0", got)
		}
	})
}

func TestCacheClearKeepsCounters(t *testing.T) {
	c := NewResultCache(testConfig(), nil)
	sc := constraint.Context{"n": 1}
	c.Set("c1", sc, satisfiedResult("c1"))
	c.Get("c1", sc)

	c.Clear()

	stats := c.Stats()
	if stats.Entries != 0 {
		t.Errorf("Entries = %d after Clear(), want 0", stats.Entries)
	}
	if stats.Hits != 1 {
		t.Errorf("Hits = %d after Clear(), want 1", stats.Hits)
	}
}

func TestCacheWarmUp(t *testing.T) {
	src := NewResultCache(testConfig(), nil)
	for i := 0; i < 3; i++ {
		src.Set(fmt.Sprintf("c%d", i), constraint.Context{"n": i}, satisfiedResult(fmt.Sprintf("c%d", i)))
	}

	exported := src.Export()
	if len(exported) != 3 {
		t.Fatalf("Export() returned %d entries, want 3", len(exported))
	}

	dst := NewResultCache(testConfig(), nil)
	if n := dst.WarmUp(exported); n != 3 {
		t.Fatalf("WarmUp() loaded %d entries, want 3", n)
	}
	if res := dst.Get("c1", constraint.Context{"n": 1}); res == nil {
		t.Error("warmed-up entry should be retrievable")
	}
}

func TestCacheWarmUpSkipsExpired(t *testing.T) {
	c := NewResultCache(testConfig(), nil)

	stale := &Entry{
		Key:          Key("c1", constraint.Context{"n": 1}),
		ConstraintID: "c1",
		Result:       satisfiedResult("c1"),
		CreatedAt:    time.Now().Add(-2 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	if n := c.WarmUp([]*Entry{stale, nil}); n != 0 {
		t.Errorf("WarmUp() loaded %d entries, want 0", n)
	}
}

func TestCacheSweepDropsRarelyUsed(t *testing.T) {
	c := NewResultCache(testConfig(), nil)

	// Fill past the occupancy threshold with one well-used entry among
	// never-read ones.
	for i := 0; i < 9; i++ {
		c.Set(fmt.Sprintf("c%d", i), constraint.Context{"n": i}, satisfiedResult(fmt.Sprintf("c%d", i)))
	}
	for i := 0; i < lowFrequencyAccess; i++ {
		c.Get("c0", constraint.Context{"n": 0})
	}

	c.sweep()

	if res := c.Get("c0", constraint.Context{"n": 0}); res == nil {
		t.Error("frequently accessed entry should survive the sweep")
	}
	if res := c.Get("c5", constraint.Context{"n": 5}); res != nil {
		t.Error("rarely used entry should be dropped above the occupancy threshold")
	}
}

func TestCacheStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = 5 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	c := NewResultCache(cfg, nil)

	c.Start()
	defer c.Stop()

	c.Set("c1", constraint.Context{"n": 1}, satisfiedResult("c1"))
	time.Sleep(30 * time.Millisecond)

	if got := c.Stats().Entries; got != 0 {
		t.Errorf("background sweep left %d entries, want 0", got)
	}

	// Stop twice must not panic.
	c.Stop()
	c.Stop()
}
