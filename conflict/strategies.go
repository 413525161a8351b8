package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/schedulekit/constraints/constraint"
)

// Strategy repairs conflicts of the types it declares via CanResolve. A
// strategy returns a failed Resolution (with a reason), not an error, when
// the conflict is understood but cannot be repaired; errors are reserved for
// internal strategy faults.
type Strategy interface {
	Name() string
	CanResolve(c Conflict) bool
	Resolve(ctx context.Context, c Conflict, results map[string]*constraint.EvaluationResult, sc constraint.Context) (Resolution, error)
}

func failed(c Conflict, strategy, reason string) Resolution {
	return Resolution{Success: false, Conflict: c, Strategy: strategy, Reason: reason}
}

// priorityStrategy lets the higher-priority constraint win: the loser's
// result is overridden to satisfied with no violations. This is a repair of
// the evaluation outcome, not a re-evaluation.
type priorityStrategy struct {
	registry constraint.Registry
}

func (s *priorityStrategy) Name() string { return "priority" }

func (s *priorityStrategy) CanResolve(c Conflict) bool {
	return c.Type == TypePriority || c.Type == TypeLogical
}

func (s *priorityStrategy) Resolve(_ context.Context, c Conflict, results map[string]*constraint.EvaluationResult, _ constraint.Context) (Resolution, error) {
	if s.registry == nil {
		return failed(c, s.Name(), "no constraint registry available"), nil
	}
	if len(c.ConstraintIDs) < 2 {
		return failed(c, s.Name(), "conflict names fewer than two constraints"), nil
	}

	winner, err := s.registry.Get(c.ConstraintIDs[0])
	if err != nil {
		return failed(c, s.Name(), fmt.Sprintf("constraint %s not found", c.ConstraintIDs[0])), nil
	}
	loser, err := s.registry.Get(c.ConstraintIDs[1])
	if err != nil {
		return failed(c, s.Name(), fmt.Sprintf("constraint %s not found", c.ConstraintIDs[1])), nil
	}

	if loser.Priority() > winner.Priority() {
		winner, loser = loser, winner
	} else if winner.Priority() == loser.Priority() {
		return failed(c, s.Name(), "constraints have equal priority"), nil
	}

	if _, ok := results[loser.ID()]; !ok {
		return failed(c, s.Name(), fmt.Sprintf("no result for constraint %s", loser.ID())), nil
	}

	return Resolution{
		Success:  true,
		Conflict: c,
		Action:   ActionOverride,
		TargetID: loser.ID(),
		Strategy: s.Name(),
		Changes: map[string]any{
			changeSatisfied:  true,
			changeViolations: []constraint.Violation{},
			changeMetadata: map[string]any{
				"overriddenBy": winner.ID(),
			},
		},
	}, nil
}

// errNoAlternative marks the unimplemented alternative-search extension
// points in the temporal and resource strategies.
var errNoAlternative = errors.New("no alternative found")

// temporalStrategy would move the second constraint's claim to a free time
// slot. Alternative-slot search is a not-yet-supported extension point, so
// the strategy currently always reports "no alternative found".
type temporalStrategy struct{}

func (temporalStrategy) Name() string               { return "temporal" }
func (temporalStrategy) CanResolve(c Conflict) bool { return c.Type == TypeTemporal }

func (temporalStrategy) Resolve(_ context.Context, c Conflict, _ map[string]*constraint.EvaluationResult, _ constraint.Context) (Resolution, error) {
	if _, err := findAlternativeTimeSlot(c); err != nil {
		return failed(c, "temporal", err.Error()), nil
	}
	// Unreachable until alternative-slot search is implemented.
	return failed(c, "temporal", errNoAlternative.Error()), nil
}

func findAlternativeTimeSlot(Conflict) (constraint.TimeSlot, error) {
	return constraint.TimeSlot{}, errNoAlternative
}

// resourceStrategy would reassign the second constraint's claim to a free
// resource. Alternative-resource search is a not-yet-supported extension
// point, so the strategy currently always reports "no alternative found".
type resourceStrategy struct{}

func (resourceStrategy) Name() string               { return "resource" }
func (resourceStrategy) CanResolve(c Conflict) bool { return c.Type == TypeResource }

func (resourceStrategy) Resolve(_ context.Context, c Conflict, _ map[string]*constraint.EvaluationResult, _ constraint.Context) (Resolution, error) {
	if _, err := findAlternativeResource(c); err != nil {
		return failed(c, "resource", err.Error()), nil
	}
	return failed(c, "resource", errNoAlternative.Error()), nil
}

func findAlternativeResource(Conflict) (string, error) {
	return "", errNoAlternative
}

// mergeStrategy combines the violations of all constraints involved in a
// resolvable logical conflict into a single deduplicated list carried by the
// first constraint's result. Duplicates are keyed by (message, severity).
type mergeStrategy struct{}

func (mergeStrategy) Name() string { return "merge" }

func (mergeStrategy) CanResolve(c Conflict) bool {
	return c.Type == TypeLogical && c.Resolvable
}

func (mergeStrategy) Resolve(_ context.Context, c Conflict, results map[string]*constraint.EvaluationResult, _ constraint.Context) (Resolution, error) {
	if len(c.ConstraintIDs) == 0 {
		return failed(c, "merge", "conflict names no constraints"), nil
	}

	target := c.ConstraintIDs[0]
	if _, ok := results[target]; !ok {
		return failed(c, "merge", fmt.Sprintf("no result for constraint %s", target)), nil
	}

	seen := make(map[string]struct{})
	merged := []constraint.Violation{}
	for _, id := range c.ConstraintIDs {
		res, ok := results[id]
		if !ok {
			return failed(c, "merge", fmt.Sprintf("no result for constraint %s", id)), nil
		}
		for _, v := range res.Violations {
			dedupKey := v.Message + "\x00" + string(v.Severity)
			if _, dup := seen[dedupKey]; dup {
				continue
			}
			seen[dedupKey] = struct{}{}
			merged = append(merged, v)
		}
	}

	return Resolution{
		Success:  true,
		Conflict: c,
		Action:   ActionMerge,
		TargetID: target,
		Strategy: "merge",
		Changes: map[string]any{
			changeSatisfied:  len(merged) == 0,
			changeViolations: merged,
			changeMetadata: map[string]any{
				"mergedFrom": append([]string(nil), c.ConstraintIDs...),
			},
		},
	}, nil
}
