package conflict

import (
	"testing"

	"github.com/schedulekit/constraints/constraint"
)

func result(id string, satisfied bool, md map[string]any, violations ...constraint.Violation) *constraint.EvaluationResult {
	return &constraint.EvaluationResult{
		ConstraintID: id,
		Satisfied:    satisfied,
		Violations:   violations,
		Metadata:     md,
	}
}

func TestDetectTemporal(t *testing.T) {
	testCases := []struct {
		name         string
		slotA, slotB constraint.TimeSlot
		wantConflict bool
	}{
		{"Overlapping", constraint.TimeSlot{Start: 10, End: 20}, constraint.TimeSlot{Start: 15, End: 25}, true},
		{"Contained", constraint.TimeSlot{Start: 10, End: 30}, constraint.TimeSlot{Start: 15, End: 20}, true},
		{"Touching boundaries", constraint.TimeSlot{Start: 10, End: 20}, constraint.TimeSlot{Start: 20, End: 30}, false},
		{"Disjoint", constraint.TimeSlot{Start: 10, End: 20}, constraint.TimeSlot{Start: 30, End: 40}, false},
	}

	d := NewDetector(nil)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results := []*constraint.EvaluationResult{
				result("a", true, map[string]any{"timeSlot": tc.slotA}),
				result("b", true, map[string]any{"timeSlot": tc.slotB}),
			}

			conflicts := d.Detect(results)
			if tc.wantConflict {
				if len(conflicts) != 1 {
					t.Fatalf("got %d conflicts, want 1", len(conflicts))
				}
				c := conflicts[0]
				if c.Type != TypeTemporal {
					t.Errorf("Type = %q, want temporal", c.Type)
				}
				if !c.Resolvable {
					t.Error("temporal conflicts should be resolvable")
				}
				if len(c.ConstraintIDs) != 2 {
					t.Errorf("ConstraintIDs = %v, want both constraints", c.ConstraintIDs)
				}
				if c.ID == "" {
					t.Error("conflict should carry an id")
				}
			} else if len(conflicts) != 0 {
				t.Errorf("got %d conflicts, want 0", len(conflicts))
			}
		})
	}
}

func TestDetectTemporalFromDecodedMetadata(t *testing.T) {
	// Metadata that round-tripped through JSON carries maps with float64
	// numbers instead of typed slots.
	d := NewDetector(nil)
	results := []*constraint.EvaluationResult{
		result("a", true, map[string]any{"timeSlot": map[string]any{"start": float64(10), "end": float64(20)}}),
		result("b", true, map[string]any{"timeSlot": map[string]any{"start": float64(15), "end": float64(25)}}),
	}

	conflicts := d.Detect(results)
	if len(conflicts) != 1 || conflicts[0].Type != TypeTemporal {
		t.Errorf("decoded time slots should still conflict, got %v", conflicts)
	}
}

func TestDetectResource(t *testing.T) {
	d := NewDetector(nil)

	t.Run("Same resource", func(t *testing.T) {
		results := []*constraint.EvaluationResult{
			result("a", true, map[string]any{"resource": "court-1"}),
			result("b", true, map[string]any{"resource": "court-1"}),
		}
		conflicts := d.Detect(results)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1", len(conflicts))
		}
		if conflicts[0].Type != TypeResource {
			t.Errorf("Type = %q, want resource", conflicts[0].Type)
		}
		if conflicts[0].Metadata["resource"] != "court-1" {
			t.Errorf("conflict metadata = %v, want resource court-1", conflicts[0].Metadata)
		}
	})

	t.Run("Different resources", func(t *testing.T) {
		results := []*constraint.EvaluationResult{
			result("a", true, map[string]any{"resource": "court-1"}),
			result("b", true, map[string]any{"resource": "court-2"}),
		}
		if conflicts := d.Detect(results); len(conflicts) != 0 {
			t.Errorf("got %d conflicts, want 0", len(conflicts))
		}
	})
}

func TestDetectPriority(t *testing.T) {
	d := NewDetector(nil)

	testCases := []struct {
		name         string
		satisfiedA   bool
		satisfiedB   bool
		prioA, prioB int
		wantConflict bool
	}{
		{"Both unsatisfied equal priority", false, false, 3, 3, true},
		{"One satisfied", true, false, 3, 3, false},
		{"Different priorities", false, false, 3, 5, false},
		{"Zero priority ignored", false, false, 0, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results := []*constraint.EvaluationResult{
				result("a", tc.satisfiedA, map[string]any{"priority": tc.prioA}),
				result("b", tc.satisfiedB, map[string]any{"priority": tc.prioB}),
			}
			conflicts := d.Detect(results)
			if tc.wantConflict {
				if len(conflicts) != 1 || conflicts[0].Type != TypePriority {
					t.Errorf("got %v, want one priority conflict", conflicts)
				}
			} else if len(conflicts) != 0 {
				t.Errorf("got %d conflicts, want 0", len(conflicts))
			}
		})
	}
}

func TestDetectLogical(t *testing.T) {
	d := NewDetector(nil)

	violation := func(requirement string) constraint.Violation {
		return constraint.Violation{
			Message:  "requirement violated",
			Severity: constraint.SeverityError,
			Context:  map[string]any{"requirement": requirement},
		}
	}

	t.Run("Negated requirements", func(t *testing.T) {
		results := []*constraint.EvaluationResult{
			result("a", false, map[string]any{"type": "availability"}, violation("venue-open")),
			result("b", false, map[string]any{"type": "availability"}, violation("!venue-open")),
		}
		conflicts := d.Detect(results)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1", len(conflicts))
		}
		c := conflicts[0]
		if c.Type != TypeLogical {
			t.Errorf("Type = %q, want logical", c.Type)
		}
		if !c.Resolvable {
			t.Error("matching type tags should make the conflict resolvable")
		}
	})

	t.Run("Negation order reversed", func(t *testing.T) {
		results := []*constraint.EvaluationResult{
			result("a", false, map[string]any{"type": "availability"}, violation("!venue-open")),
			result("b", false, map[string]any{"type": "availability"}, violation("venue-open")),
		}
		if conflicts := d.Detect(results); len(conflicts) != 1 {
			t.Errorf("got %d conflicts, want 1", len(conflicts))
		}
	})

	t.Run("Different type tags are unresolvable", func(t *testing.T) {
		results := []*constraint.EvaluationResult{
			result("a", false, map[string]any{"type": "availability"}, violation("venue-open")),
			result("b", false, map[string]any{"type": "capacity"}, violation("!venue-open")),
		}
		conflicts := d.Detect(results)
		if len(conflicts) != 1 {
			t.Fatalf("got %d conflicts, want 1", len(conflicts))
		}
		if conflicts[0].Resolvable {
			t.Error("mismatched type tags should make the conflict unresolvable")
		}
	})

	t.Run("Unrelated requirements", func(t *testing.T) {
		results := []*constraint.EvaluationResult{
			result("a", false, nil, violation("venue-open")),
			result("b", false, nil, violation("court-free")),
		}
		if conflicts := d.Detect(results); len(conflicts) != 0 {
			t.Errorf("got %d conflicts, want 0", len(conflicts))
		}
	})
}

func TestDetectNoMetadata(t *testing.T) {
	d := NewDetector(nil)
	results := []*constraint.EvaluationResult{
		result("a", true, nil),
		result("b", false, nil),
		result("c", false, map[string]any{}),
	}
	if conflicts := d.Detect(results); len(conflicts) != 0 {
		t.Errorf("results without tags should never conflict, got %d", len(conflicts))
	}
}

func TestDetectMultiplePairs(t *testing.T) {
	d := NewDetector(nil)
	results := []*constraint.EvaluationResult{
		result("a", true, map[string]any{"resource": "court-1"}),
		result("b", true, map[string]any{"resource": "court-1"}),
		result("c", true, map[string]any{"resource": "court-1"}),
	}

	// Three entries contending for one resource form three pairs.
	conflicts := d.Detect(results)
	if len(conflicts) != 3 {
		t.Errorf("got %d conflicts, want 3", len(conflicts))
	}
}
