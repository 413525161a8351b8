package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/schedulekit/constraints/constraint"
)

// DefaultHistoryLimit caps how many resolution outcomes are kept per
// (conflict type, constraint set) bucket.
const DefaultHistoryLimit = 50

// Resolver repairs detected conflicts with pluggable, typed strategies and
// keeps a bounded resolution history for strategy selection. History is
// advisory only: an empty history never changes which conflicts resolve.
type Resolver struct {
	registry constraint.Registry
	logger   *slog.Logger

	mu           sync.Mutex
	strategies   map[string]Strategy
	history      map[string][]Resolution
	historyLimit int
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithHistoryLimit overrides the per-bucket history cap.
func WithHistoryLimit(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// NewResolver creates a resolver with the default strategies registered.
// registry may be nil; strategies needing constraint lookups then fail with
// a reason instead of resolving.
func NewResolver(registry constraint.Registry, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		registry:     registry,
		logger:       logger,
		strategies:   make(map[string]Strategy),
		history:      make(map[string][]Resolution),
		historyLimit: DefaultHistoryLimit,
	}
	for _, o := range opts {
		o(r)
	}

	r.register(&priorityStrategy{registry: registry})
	r.register(temporalStrategy{})
	r.register(resourceStrategy{})
	r.register(mergeStrategy{})
	return r
}

func (r *Resolver) register(s Strategy) {
	r.strategies[s.Name()] = s
}

// RegisterStrategy adds or replaces a pluggable strategy.
func (r *Resolver) RegisterStrategy(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(s)
}

// Resolve attempts to repair the given conflicts and returns the patched
// results plus one Resolution per conflict. Inputs are not mutated; conflicts
// whose strategy fails are reported with a reason, never dropped.
func (r *Resolver) Resolve(ctx context.Context, results []*constraint.EvaluationResult, conflicts []Conflict, sc constraint.Context) ([]*constraint.EvaluationResult, []Resolution) {
	patched := make([]*constraint.EvaluationResult, len(results))
	byID := make(map[string]*constraint.EvaluationResult, len(results))
	for i, res := range results {
		patched[i] = res.Clone()
		byID[patched[i].ConstraintID] = patched[i]
	}

	resolutions := make([]Resolution, 0, len(conflicts))
	for _, group := range groupByType(conflicts) {
		strat := r.selectStrategy(group)
		for _, c := range group {
			outcome := r.resolveOne(ctx, strat, c, byID, sc)
			if outcome.Success {
				if target, ok := byID[outcome.TargetID]; ok {
					applyPatch(target, outcome.Changes)
				}
			}
			r.remember(c, outcome)
			resolutions = append(resolutions, outcome)
		}
	}
	return patched, resolutions
}

func (r *Resolver) resolveOne(ctx context.Context, strat Strategy, c Conflict, byID map[string]*constraint.EvaluationResult, sc constraint.Context) Resolution {
	if strat == nil {
		return failed(c, "", fmt.Sprintf("no strategy registered for %s conflicts", c.Type))
	}
	if !strat.CanResolve(c) {
		return failed(c, strat.Name(), fmt.Sprintf("strategy %s does not support this conflict", strat.Name()))
	}

	outcome, err := strat.Resolve(ctx, c, byID, sc)
	if err != nil {
		r.logger.Error("resolution strategy failed",
			"strategy", strat.Name(),
			"conflict", c.ID,
			"error", err,
		)
		return failed(c, strat.Name(), err.Error())
	}
	return outcome
}

// selectStrategy picks the strategy for a same-type conflict group: a
// previously successful strategy from history when one exists, otherwise the
// fixed default mapping.
func (r *Resolver) selectStrategy(group []Conflict) Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name := r.historyPickLocked(group); name != "" {
		if s, ok := r.strategies[name]; ok {
			return s
		}
	}
	return r.strategies[defaultStrategyName(group)]
}

// historyPickLocked consults the bounded history for the most recent
// successful strategy used on these exact conflicts. This is where a learned
// selection model would plug in; without one the lookup is a plain scan.
func (r *Resolver) historyPickLocked(group []Conflict) string {
	for _, c := range group {
		bucket := r.history[historyKey(c)]
		for i := len(bucket) - 1; i >= 0; i-- {
			if bucket[i].Success && bucket[i].Strategy != "" {
				return bucket[i].Strategy
			}
		}
	}
	return ""
}

func defaultStrategyName(group []Conflict) string {
	switch group[0].Type {
	case TypePriority:
		return "priority"
	case TypeTemporal:
		return "temporal"
	case TypeResource:
		return "resource"
	case TypeLogical:
		for _, c := range group {
			if !c.Resolvable {
				return "priority"
			}
		}
		return "merge"
	}
	return "priority"
}

// remember appends an outcome to the conflict's history bucket, evicting the
// oldest entry past the cap.
func (r *Resolver) remember(c Conflict, outcome Resolution) {
	key := historyKey(c)

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := append(r.history[key], outcome)
	if len(bucket) > r.historyLimit {
		bucket = bucket[len(bucket)-r.historyLimit:]
	}
	r.history[key] = bucket
}

// History returns retained resolution outcomes, filtered by conflict type
// when one is given.
func (r *Resolver) History(t Type) []Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Resolution
	for _, bucket := range r.history {
		for _, res := range bucket {
			if t == "" || res.Conflict.Type == t {
				out = append(out, res)
			}
		}
	}
	return out
}

// ClearHistory drops all retained resolution outcomes.
func (r *Resolver) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = make(map[string][]Resolution)
}

// historyKey buckets outcomes by conflict type and the sorted set of
// involved constraints.
func historyKey(c Conflict) string {
	ids := append([]string(nil), c.ConstraintIDs...)
	sort.Strings(ids)
	return string(c.Type) + "|" + strings.Join(ids, ",")
}

// groupByType splits conflicts into same-type groups, preserving first-seen
// type order.
func groupByType(conflicts []Conflict) [][]Conflict {
	index := make(map[Type]int)
	var groups [][]Conflict
	for _, c := range conflicts {
		i, ok := index[c.Type]
		if !ok {
			i = len(groups)
			index[c.Type] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	return groups
}
