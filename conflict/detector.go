package conflict

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/schedulekit/constraints/constraint"
)

// Detector finds contradictions among a set of evaluation results. Each
// unordered pair is checked once for logical, temporal, resource and
// priority conflicts; multi-result passes exist as extension points.
type Detector struct {
	logger *slog.Logger
}

func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect runs all detection passes over the result set.
func (d *Detector) Detect(results []*constraint.EvaluationResult) []Conflict {
	var conflicts []Conflict

	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i], results[j]
			if c := d.checkLogical(a, b); c != nil {
				conflicts = append(conflicts, *c)
			}
			if c := d.checkTemporal(a, b); c != nil {
				conflicts = append(conflicts, *c)
			}
			if c := d.checkResource(a, b); c != nil {
				conflicts = append(conflicts, *c)
			}
			if c := d.checkPriority(a, b); c != nil {
				conflicts = append(conflicts, *c)
			}
		}
	}

	conflicts = append(conflicts, d.detectCircularDependencies(results)...)
	conflicts = append(conflicts, d.detectResourceExhaustion(results)...)

	if len(conflicts) > 0 {
		d.logger.Debug("conflicts detected", "count", len(conflicts))
	}
	return conflicts
}

// checkLogical cross-compares every violation of a against every violation
// of b. A contradiction exists when one violation's "requirement" tag is the
// "!"-prefixed negation of the other's. The conflict counts as resolvable
// only when both results carry the same metadata "type" tag, a necessary
// (not sufficient) sign that the constraints talk about comparable things.
func (d *Detector) checkLogical(a, b *constraint.EvaluationResult) *Conflict {
	for _, va := range a.Violations {
		ra, aok := stringTag(va.Context, "requirement")
		if !aok {
			continue
		}
		for _, vb := range b.Violations {
			rb, bok := stringTag(vb.Context, "requirement")
			if !bok {
				continue
			}
			if ra != "!"+rb && rb != "!"+ra {
				continue
			}

			ta, aok := stringTag(a.Metadata, "type")
			tb, bok := stringTag(b.Metadata, "type")
			resolvable := aok && bok && ta == tb

			return &Conflict{
				ID:            uuid.NewString(),
				Type:          TypeLogical,
				ConstraintIDs: []string{a.ConstraintID, b.ConstraintID},
				Description:   fmt.Sprintf("constraints %s and %s impose contradictory requirements", a.ConstraintID, b.ConstraintID),
				Severity:      constraint.SeverityError,
				Resolvable:    resolvable,
				Metadata: map[string]any{
					"contradiction": []string{ra, rb},
				},
			}
		}
	}
	return nil
}

// checkTemporal reports a conflict when both results carry overlapping
// "timeSlot" tags. Boundary-touching slots do not overlap.
func (d *Detector) checkTemporal(a, b *constraint.EvaluationResult) *Conflict {
	sa, aok := timeSlotTag(a.Metadata)
	sb, bok := timeSlotTag(b.Metadata)
	if !aok || !bok || !sa.Overlaps(sb) {
		return nil
	}

	return &Conflict{
		ID:            uuid.NewString(),
		Type:          TypeTemporal,
		ConstraintIDs: []string{a.ConstraintID, b.ConstraintID},
		Description:   fmt.Sprintf("constraints %s and %s claim overlapping time slots", a.ConstraintID, b.ConstraintID),
		Severity:      constraint.SeverityWarning,
		Resolvable:    true,
		Metadata: map[string]any{
			"slots": []constraint.TimeSlot{sa, sb},
		},
	}
}

// checkResource reports a conflict when both results carry equal "resource"
// tags.
func (d *Detector) checkResource(a, b *constraint.EvaluationResult) *Conflict {
	ra, aok := stringTag(a.Metadata, "resource")
	rb, bok := stringTag(b.Metadata, "resource")
	if !aok || !bok || ra != rb {
		return nil
	}

	return &Conflict{
		ID:            uuid.NewString(),
		Type:          TypeResource,
		ConstraintIDs: []string{a.ConstraintID, b.ConstraintID},
		Description:   fmt.Sprintf("constraints %s and %s contend for resource %q", a.ConstraintID, b.ConstraintID, ra),
		Severity:      constraint.SeverityWarning,
		Resolvable:    true,
		Metadata: map[string]any{
			"resource": ra,
		},
	}
}

// checkPriority reports a conflict when both results are unsatisfied and
// carry equal non-zero "priority" tags.
func (d *Detector) checkPriority(a, b *constraint.EvaluationResult) *Conflict {
	if a.Satisfied || b.Satisfied {
		return nil
	}
	pa, aok := intTag(a.Metadata, "priority")
	pb, bok := intTag(b.Metadata, "priority")
	if !aok || !bok || pa == 0 || pa != pb {
		return nil
	}

	return &Conflict{
		ID:            uuid.NewString(),
		Type:          TypePriority,
		ConstraintIDs: []string{a.ConstraintID, b.ConstraintID},
		Description:   fmt.Sprintf("constraints %s and %s are both unsatisfied at priority %d", a.ConstraintID, b.ConstraintID, pa),
		Severity:      constraint.SeverityError,
		Resolvable:    true,
		Metadata: map[string]any{
			"priority": pa,
		},
	}
}

// detectCircularDependencies is a not-yet-supported extension point for
// multi-result dependency-cycle detection. It reports no conflicts.
func (d *Detector) detectCircularDependencies([]*constraint.EvaluationResult) []Conflict {
	return nil
}

// detectResourceExhaustion is a not-yet-supported extension point for
// detecting over-subscription of a resource across many results. It reports
// no conflicts.
func (d *Detector) detectResourceExhaustion([]*constraint.EvaluationResult) []Conflict {
	return nil
}

func stringTag(md map[string]any, key string) (string, bool) {
	if md == nil {
		return "", false
	}
	s, ok := md[key].(string)
	return s, ok && s != ""
}

// intTag reads a numeric tag. JSON-decoded metadata carries float64, typed
// metadata carries int; accept both.
func intTag(md map[string]any, key string) (int, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// timeSlotTag reads a "timeSlot" tag as either a typed TimeSlot or a
// JSON-decoded map with numeric start/end.
func timeSlotTag(md map[string]any) (constraint.TimeSlot, bool) {
	if md == nil {
		return constraint.TimeSlot{}, false
	}
	switch v := md["timeSlot"].(type) {
	case constraint.TimeSlot:
		return v, true
	case map[string]any:
		start, sok := intTag(v, "start")
		end, eok := intTag(v, "end")
		if sok && eok {
			return constraint.TimeSlot{Start: int64(start), End: int64(end)}, true
		}
	}
	return constraint.TimeSlot{}, false
}
