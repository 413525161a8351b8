package engine

import (
	"fmt"

	"github.com/schedulekit/constraints/cache"
	"github.com/schedulekit/constraints/monitor"
)

// Config holds engine configuration.
type Config struct {
	// ParallelEvaluations is the window size for batch evaluation: this many
	// constraints run concurrently, windows run sequentially.
	ParallelEvaluations int

	// HistoryLimit caps the conflict resolver's per-bucket history.
	HistoryLimit int

	Cache   cache.Config
	Monitor monitor.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ParallelEvaluations: 5,
		HistoryLimit:        50,
		Cache:               cache.DefaultConfig(),
		Monitor:             monitor.DefaultConfig(),
	}
}

// Validate checks the configuration for nonsensical values.
func (c Config) Validate() error {
	if c.ParallelEvaluations < 1 {
		return fmt.Errorf("parallel evaluations must be at least 1, got %d", c.ParallelEvaluations)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history limit must be at least 1, got %d", c.HistoryLimit)
	}
	if c.Cache.Enabled && c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache max size must be at least 1, got %d", c.Cache.MaxSize)
	}
	return nil
}

// Options tune a single evaluation request.
type Options struct {
	// SkipCache bypasses the result cache for this request.
	SkipCache bool

	// ResolveConflicts opts a batch into automatic conflict resolution.
	// Detection always runs.
	ResolveConflicts bool
}
