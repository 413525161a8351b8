package cache

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/schedulekit/constraints/constraint"
)

// Access frequencies at which an entry's expiry is extended, and the
// multipliers applied to the base TTL when they are crossed.
const (
	hotAccessThreshold  = 10
	warmAccessThreshold = 5
	hotTTLFactor        = 2.0
	warmTTLFactor       = 1.5

	// sweepOccupancy is the fill ratio above which the background sweep also
	// drops rarely used entries to pre-empt future evictions.
	sweepOccupancy = 0.8

	// lowFrequencyAccess is the access count below which an entry counts as
	// rarely used.
	lowFrequencyAccess = 3
)

// Config holds configuration for result caching.
type Config struct {
	// Enabled turns the cache off entirely when false; every operation
	// becomes a no-op.
	Enabled bool

	// TTL is the base time-to-live for entries.
	TTL time.Duration

	// MaxSize is the maximum number of entries held. When full, the
	// least-recently-used tenth is evicted before inserting.
	MaxSize int

	// CleanupInterval is the period of the background sweep.
	CleanupInterval time.Duration

	// AdaptiveTTL extends expiry of frequently hit entries when true.
	AdaptiveTTL bool
}

// DefaultConfig returns sensible defaults for result caching.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             5 * time.Minute,
		MaxSize:         1000,
		CleanupInterval: time.Minute,
		AdaptiveTTL:     true,
	}
}

// Entry is one memoized evaluation result.
type Entry struct {
	Key          string                       `json:"key"`
	ConstraintID string                       `json:"constraintId"`
	Result       *constraint.EvaluationResult `json:"result"`
	CreatedAt    time.Time                    `json:"createdAt"`
	ExpiresAt    time.Time                    `json:"expiresAt"`
	LastAccess   time.Time                    `json:"lastAccess"`
	AccessCount  int64                        `json:"accessCount"`
	Size         int                          `json:"size"`
	Metadata     map[string]any               `json:"metadata,omitempty"`
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.Result = e.Result.Clone()
	return &cp
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries     int     `json:"entries"`
	MaxSize     int     `json:"maxSize"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	TotalSize   int64   `json:"totalSize"`
}

// ResultCache memoizes evaluation results keyed by (constraint id, canonical
// context). Thread-safe for concurrent access.
type ResultCache struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	freq    map[string]int64

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewResultCache(cfg Config, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*Entry),
		freq:    make(map[string]int64),
	}
}

// Get returns the cached result for the pair, or nil on a miss. Expired
// entries are dropped on sight, never returned. Hits update access metadata
// and, under adaptive TTL, may push the entry's expiry out.
func (c *ResultCache) Get(constraintID string, sc constraint.Context) *constraint.EvaluationResult {
	if !c.cfg.Enabled {
		return nil
	}

	key := Key(constraintID, sc)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	if now.After(e.ExpiresAt) {
		delete(c.entries, key)
		delete(c.freq, key)
		c.expirations++
		c.misses++
		return nil
	}

	c.hits++
	e.AccessCount++
	e.LastAccess = now
	c.freq[key]++

	if c.cfg.AdaptiveTTL {
		switch f := c.freq[key]; {
		case f > hotAccessThreshold:
			e.ExpiresAt = now.Add(time.Duration(hotTTLFactor * float64(c.cfg.TTL)))
		case f > warmAccessThreshold:
			e.ExpiresAt = now.Add(time.Duration(warmTTLFactor * float64(c.cfg.TTL)))
		}
	}

	// Callers may patch results during conflict resolution; hand out a copy.
	return e.Result.Clone()
}

// Set stores a result. At capacity the least-recently-used 10% of entries is
// evicted first.
func (c *ResultCache) Set(constraintID string, sc constraint.Context, res *constraint.EvaluationResult) {
	if !c.cfg.Enabled || res == nil {
		return
	}

	key := Key(constraintID, sc)
	now := time.Now()

	size := 0
	if enc, err := json.Marshal(res); err == nil {
		size = len(enc)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictLRULocked()
	}

	c.entries[key] = &Entry{
		Key:          key,
		ConstraintID: constraintID,
		Result:       res.Clone(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.cfg.TTL),
		LastAccess:   now,
		AccessCount:  0,
		Size:         size,
		Metadata: map[string]any{
			"contextHash":    ContextHash(sc),
			"satisfied":      res.Satisfied,
			"violationCount": len(res.Violations),
		},
	}
	c.freq[key] = 0
}

// evictLRULocked removes the least-recently-used 10% of entries (at least
// one). Caller holds c.mu.
func (c *ResultCache) evictLRULocked() {
	n := c.cfg.MaxSize / 10
	if n < 1 {
		n = 1
	}

	byAccess := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		byAccess = append(byAccess, e)
	}
	sort.Slice(byAccess, func(i, j int) bool {
		return byAccess[i].LastAccess.Before(byAccess[j].LastAccess)
	})

	if n > len(byAccess) {
		n = len(byAccess)
	}
	for _, e := range byAccess[:n] {
		delete(c.entries, e.Key)
		delete(c.freq, e.Key)
		c.evictions++
	}

	c.logger.Debug("cache eviction", "evicted", n, "remaining", len(c.entries))
}

// Invalidate removes entries matching the given constraint id and context.
// An empty id matches every entry; a nil context matches every context for
// the id. Returns the number of entries removed.
func (c *ResultCache) Invalidate(constraintID string, sc constraint.Context) int {
	if !c.cfg.Enabled {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if constraintID != "" && sc != nil {
		key := Key(constraintID, sc)
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			delete(c.freq, key)
			return 1
		}
		return 0
	}

	removed := 0
	for key, e := range c.entries {
		if constraintID == "" || e.ConstraintID == constraintID {
			delete(c.entries, key)
			delete(c.freq, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry but keeps hit/miss counters.
func (c *ResultCache) Clear() {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.freq = make(map[string]int64)
}

// Stats returns a snapshot of cache counters.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, e := range c.entries {
		total += int64(e.Size)
	}

	s := Stats{
		Entries:     len(c.entries),
		MaxSize:     c.cfg.MaxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		TotalSize:   total,
	}
	if lookups := c.hits + c.misses; lookups > 0 {
		s.HitRate = float64(c.hits) / float64(lookups)
	}
	return s
}

// WarmUp inserts previously exported entries, skipping expired ones.
// Returns the number of entries loaded.
func (c *ResultCache) WarmUp(entries []*Entry) int {
	if !c.cfg.Enabled {
		return 0
	}

	now := time.Now()
	loaded := 0

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		if e == nil || e.Result == nil || now.After(e.ExpiresAt) {
			continue
		}
		if len(c.entries) >= c.cfg.MaxSize {
			break
		}
		c.entries[e.Key] = e.clone()
		c.freq[e.Key] = e.AccessCount
		loaded++
	}
	return loaded
}

// Export returns copies of all live entries, e.g. to warm a replacement cache.
func (c *ResultCache) Export() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if now.After(e.ExpiresAt) {
			continue
		}
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Start launches the background sweep. Safe to call on a disabled cache.
func (c *ResultCache) Start() {
	if !c.cfg.Enabled || c.cfg.CleanupInterval <= 0 {
		return
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (c *ResultCache) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
}

// sweep removes strictly expired entries, and above the occupancy threshold
// also drops rarely used entries so inserts stay cheap.
func (c *ResultCache) sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, key)
			delete(c.freq, key)
			c.expirations++
		}
	}

	if float64(len(c.entries)) > sweepOccupancy*float64(c.cfg.MaxSize) {
		for key, e := range c.entries {
			if e.AccessCount < lowFrequencyAccess {
				delete(c.entries, key)
				delete(c.freq, key)
				c.evictions++
			}
		}
	}
}
