// Package engine orchestrates constraint evaluation: it deduplicates
// identical in-flight requests, memoizes results, fans batches out over
// bounded windows, and hands contradictory outcomes to the conflict
// resolver.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/schedulekit/constraints/cache"
	"github.com/schedulekit/constraints/conflict"
	"github.com/schedulekit/constraints/constraint"
	"github.com/schedulekit/constraints/monitor"
)

// Engine evaluates constraints from a registry with caching, in-flight
// deduplication, performance monitoring and conflict resolution. All state
// is per-instance; nothing global.
type Engine struct {
	cfg      Config
	registry constraint.Registry
	cache    *cache.ResultCache
	monitor  *monitor.Monitor
	detector *conflict.Detector
	resolver *conflict.Resolver
	logger   *slog.Logger

	inflight singleflight.Group

	observerMu sync.RWMutex
	observers  []Observer

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an engine around the given registry and starts the cache sweep
// and monitor sampling loops. collectors may be nil to skip Prometheus
// exposition.
func New(cfg Config, registry constraint.Registry, logger *slog.Logger, collectors *monitor.Collectors) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		cache:    cache.NewResultCache(cfg.Cache, logger),
		monitor:  monitor.New(cfg.Monitor, logger, collectors),
		detector: conflict.NewDetector(logger),
		resolver: conflict.NewResolver(registry, logger, conflict.WithHistoryLimit(cfg.HistoryLimit)),
		logger:   logger,
	}

	e.cache.Start()
	e.monitor.Start()
	return e, nil
}

// RegisterConstraint adds a constraint to the registry. Unlike evaluation
// failures, registration errors propagate: a bad registration is a
// configuration mistake.
func (e *Engine) RegisterConstraint(c constraint.Constraint) error {
	return e.registry.Register(c)
}

// Evaluate evaluates one constraint against the schedule context. It never
// returns an error: every failure on the evaluation path (including an
// unknown id) degrades into a result with Satisfied=false, a single
// error-severity violation and an error metadata flag.
//
// Concurrent calls for the same (id, context) pair share one underlying
// evaluation and observe the same result.
func (e *Engine) Evaluate(ctx context.Context, id string, sc constraint.Context, opts Options) *constraint.EvaluationResult {
	key := cache.Key(id, sc)
	v, _, _ := e.inflight.Do(key, func() (any, error) {
		return e.evaluateOnce(ctx, id, sc, opts), nil
	})
	return v.(*constraint.EvaluationResult)
}

func (e *Engine) evaluateOnce(ctx context.Context, id string, sc constraint.Context, opts Options) *constraint.EvaluationResult {
	e.wg.Add(1)
	defer e.wg.Done()

	evalID := uuid.NewString()
	e.monitor.StartEvaluation(evalID, id)

	if !opts.SkipCache {
		if res := e.cache.Get(id, sc); res != nil {
			duration := e.monitor.EndEvaluation(evalID, true)
			e.monitor.RecordMetrics(monitor.Record{
				ConstraintID: id,
				Duration:     duration,
				Satisfied:    res.Satisfied,
				Violations:   len(res.Violations),
				Cached:       true,
			})
			e.emit(Event{Type: EventEvaluated, ConstraintID: id, Result: res})
			return res
		}
	}

	res := e.run(ctx, id, sc)

	if res.Satisfied {
		// Violated results are often transient (the schedule is being
		// repaired); only satisfied outcomes are worth memoizing.
		e.cache.Set(id, sc, res)
	}

	_, isErr := res.Metadata[constraint.MetaError]
	duration := e.monitor.EndEvaluation(evalID, false)
	e.monitor.RecordMetrics(monitor.Record{
		ConstraintID: id,
		Duration:     duration,
		Satisfied:    res.Satisfied,
		Violations:   len(res.Violations),
		Err:          isErr,
	})

	e.emit(Event{Type: EventEvaluated, ConstraintID: id, Result: res})
	return res
}

// run performs the registry fetch and the pre/evaluate/post pipeline,
// converting any failure into a degraded result.
func (e *Engine) run(ctx context.Context, id string, sc constraint.Context) *constraint.EvaluationResult {
	c, err := e.registry.Get(id)
	if err != nil {
		return e.degraded(id, err)
	}

	if pre, ok := c.(constraint.PreProcessor); ok {
		transformed, err := pre.PreProcess(ctx, sc)
		if err != nil {
			return e.degraded(id, fmt.Errorf("pre-process: %w", err))
		}
		sc = transformed
	}

	satisfied, violations, err := c.Evaluate(ctx, sc)
	if err != nil {
		return e.degraded(id, err)
	}

	res := constraint.NewResult(c, satisfied, violations)

	if post, ok := c.(constraint.PostProcessor); ok {
		if err := post.PostProcess(ctx, res, sc); err != nil {
			return e.degraded(id, fmt.Errorf("post-process: %w", err))
		}
	}
	return res
}

// degraded converts an evaluation failure into a non-throwing result.
func (e *Engine) degraded(id string, err error) *constraint.EvaluationResult {
	e.logger.Error("constraint evaluation failed", "constraint", id, "error", err)
	return &constraint.EvaluationResult{
		ConstraintID: id,
		Satisfied:    false,
		Violations: []constraint.Violation{{
			Message:  err.Error(),
			Severity: constraint.SeverityError,
		}},
		Metadata: map[string]any{
			constraint.MetaEvaluatedAt: time.Now(),
			constraint.MetaError:       true,
		},
	}
}

// BatchError reports one constraint's failure inside a batch.
type BatchError struct {
	ConstraintID string `json:"constraintId"`
	Message      string `json:"message"`
}

// BatchSummary carries batch-level accounting.
type BatchSummary struct {
	Evaluated     int           `json:"evaluated"`
	Satisfied     int           `json:"satisfied"`
	Violated      int           `json:"violated"`
	ConflictCount int           `json:"conflictCount"`
	ErrorCount    int           `json:"errorCount"`
	Elapsed       time.Duration `json:"elapsed"`
}

// BatchResult aggregates a multi-constraint evaluation.
type BatchResult struct {
	Results         []*constraint.EvaluationResult `json:"results"`
	AllSatisfied    bool                           `json:"allSatisfied"`
	TotalViolations int                            `json:"totalViolations"`
	Conflicts       []conflict.Conflict            `json:"conflicts"`
	Resolutions     []conflict.Resolution          `json:"resolutions,omitempty"`
	Errors          []BatchError                   `json:"errors,omitempty"`
	Summary         BatchSummary                   `json:"summary"`
}

// EvaluateBatch evaluates the given constraints against one context in
// windows of ParallelEvaluations: evaluations within a window run
// concurrently, windows run sequentially. Per-constraint failures are
// isolated into the Errors list and never abort the batch. Conflicts are
// always detected; resolution runs only when opts.ResolveConflicts is set.
func (e *Engine) EvaluateBatch(ctx context.Context, ids []string, sc constraint.Context, opts Options) *BatchResult {
	start := time.Now()

	results := make([]*constraint.EvaluationResult, 0, len(ids))
	window := e.cfg.ParallelEvaluations
	for i := 0; i < len(ids); i += window {
		end := i + window
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		out := make([]*constraint.EvaluationResult, len(chunk))
		var wg sync.WaitGroup
		for j, id := range chunk {
			wg.Add(1)
			go func(j int, id string) {
				defer wg.Done()
				out[j] = e.Evaluate(ctx, id, sc, opts)
			}(j, id)
		}
		wg.Wait()
		results = append(results, out...)
	}

	var errs []BatchError
	for _, res := range results {
		if _, isErr := res.Metadata[constraint.MetaError]; isErr {
			msg := "evaluation failed"
			if len(res.Violations) > 0 {
				msg = res.Violations[0].Message
			}
			errs = append(errs, BatchError{ConstraintID: res.ConstraintID, Message: msg})
		}
	}

	conflicts := e.detector.Detect(results)
	if len(conflicts) > 0 {
		e.emit(Event{Type: EventConflictsDetected, Conflicts: conflicts})
	}

	var resolutions []conflict.Resolution
	if opts.ResolveConflicts && len(conflicts) > 0 {
		results, resolutions = e.resolver.Resolve(ctx, results, conflicts, sc)
		e.emit(Event{Type: EventConflictsResolved, Conflicts: conflicts, Resolutions: resolutions})
	}

	batch := &BatchResult{
		Results:      results,
		AllSatisfied: true,
		Conflicts:    conflicts,
		Resolutions:  resolutions,
		Errors:       errs,
	}
	for _, res := range results {
		if res.Satisfied {
			batch.Summary.Satisfied++
		} else {
			batch.AllSatisfied = false
			batch.Summary.Violated++
		}
		batch.TotalViolations += len(res.Violations)
	}
	batch.Summary.Evaluated = len(results)
	batch.Summary.ConflictCount = len(conflicts)
	batch.Summary.ErrorCount = len(errs)
	batch.Summary.Elapsed = time.Since(start)

	e.logger.Debug("batch evaluated",
		"constraints", len(ids),
		"conflicts", len(conflicts),
		"errors", len(errs),
		"elapsed", batch.Summary.Elapsed,
	)
	return batch
}

// EvaluateByKind looks up all constraints of a kind and batch-evaluates them.
func (e *Engine) EvaluateByKind(ctx context.Context, kind constraint.Kind, sc constraint.Context, opts Options) (*BatchResult, error) {
	cs, err := e.registry.ByKind(kind)
	if err != nil {
		return nil, fmt.Errorf("lookup by kind %q: %w", kind, err)
	}
	return e.EvaluateBatch(ctx, idsOf(cs), sc, opts), nil
}

// EvaluateByPriority looks up all constraints at a priority and
// batch-evaluates them.
func (e *Engine) EvaluateByPriority(ctx context.Context, priority int, sc constraint.Context, opts Options) (*BatchResult, error) {
	cs, err := e.registry.ByPriority(priority)
	if err != nil {
		return nil, fmt.Errorf("lookup by priority %d: %w", priority, err)
	}
	return e.EvaluateBatch(ctx, idsOf(cs), sc, opts), nil
}

func idsOf(cs []constraint.Constraint) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID()
	}
	return ids
}

// Metrics returns the monitor's aggregate snapshot.
func (e *Engine) Metrics() monitor.Snapshot { return e.monitor.Metrics() }

// ConstraintMetrics returns per-constraint statistics.
func (e *Engine) ConstraintMetrics(id string) (monitor.ConstraintMetrics, bool) {
	return e.monitor.ConstraintMetrics(id)
}

// CacheStats returns result-cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// ClearCache drops all memoized results.
func (e *Engine) ClearCache() { e.cache.Clear() }

// InvalidateCache removes memoized results for one constraint (all contexts
// when sc is nil). Returns the number of entries removed.
func (e *Engine) InvalidateCache(id string, sc constraint.Context) int {
	return e.cache.Invalidate(id, sc)
}

// Monitor exposes the performance monitor, e.g. for threshold configuration.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Resolver exposes the conflict resolver, e.g. to register custom strategies.
func (e *Engine) Resolver() *conflict.Resolver { return e.resolver }

// Shutdown waits for in-flight evaluations (bounded by ctx), then clears the
// cache and stops background tasks. Further events are suppressed once
// shutdown begins. Shutdown is idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.cache.Clear()
	e.cache.Stop()
	e.monitor.Stop()

	e.logger.Info("engine shut down")
	return err
}
