package constraint

import (
	"context"
	"testing"
	"time"
)

func TestTimeSlotOverlaps(t *testing.T) {
	testCases := []struct {
		name string
		a, b TimeSlot
		want bool
	}{
		{"Partial overlap", TimeSlot{10, 20}, TimeSlot{15, 25}, true},
		{"Contained", TimeSlot{10, 30}, TimeSlot{15, 20}, true},
		{"Identical", TimeSlot{10, 20}, TimeSlot{10, 20}, true},
		{"Touching boundaries", TimeSlot{10, 20}, TimeSlot{20, 30}, false},
		{"Disjoint", TimeSlot{10, 20}, TimeSlot{25, 30}, false},
		{"Reversed touching", TimeSlot{20, 30}, TimeSlot{10, 20}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Errorf("(%v).Overlaps(%v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			// Overlap is symmetric
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Errorf("(%v).Overlaps(%v) = %v, want %v", tc.b, tc.a, got, tc.want)
			}
		})
	}
}

func TestNewResultStampsMetadata(t *testing.T) {
	c := &Def{
		DefID:       "room-capacity",
		DefKind:     KindHard,
		DefPriority: 7,
		Meta:        map[string]any{"type": "capacity", "priority": 3},
	}

	res := NewResult(c, false, []Violation{{Message: "over capacity", Severity: SeverityError}})

	if res.ConstraintID != "room-capacity" {
		t.Errorf("ConstraintID = %q, want %q", res.ConstraintID, "room-capacity")
	}
	if res.Satisfied {
		t.Error("Satisfied should be false")
	}
	if got := res.Metadata[MetaKind]; got != KindHard {
		t.Errorf("Metadata[%s] = %v, want %v", MetaKind, got, KindHard)
	}
	if got := res.Metadata[MetaPriority]; got != 7 {
		t.Errorf("Metadata[%s] = %v, want 7", MetaPriority, got)
	}
	// The constraint's free-form "priority" tag must survive alongside
	// the engine-stamped constraint priority.
	if got := res.Metadata["priority"]; got != 3 {
		t.Errorf("Metadata[priority] = %v, want 3", got)
	}
	if _, ok := res.Metadata[MetaEvaluatedAt].(time.Time); !ok {
		t.Errorf("Metadata[%s] should carry a timestamp, got %T", MetaEvaluatedAt, res.Metadata[MetaEvaluatedAt])
	}
}

func TestNewResultNilViolations(t *testing.T) {
	c := &Def{DefID: "x", DefKind: KindSoft}

	res := NewResult(c, true, nil)
	if res.Violations == nil {
		t.Error("Violations should be non-nil even when empty")
	}
	if len(res.Violations) != 0 {
		t.Errorf("Violations length = %d, want 0", len(res.Violations))
	}
}

func TestEvaluationResultClone(t *testing.T) {
	orig := &EvaluationResult{
		ConstraintID: "x",
		Satisfied:    false,
		Violations:   []Violation{{Message: "bad", Severity: SeverityWarning}},
		Metadata:     map[string]any{"type": "capacity"},
	}

	cp := orig.Clone()
	cp.Satisfied = true
	cp.Violations[0].Message = "changed"
	cp.Metadata["type"] = "changed"

	if orig.Satisfied {
		t.Error("mutating the clone changed the original Satisfied flag")
	}
	if orig.Violations[0].Message != "bad" {
		t.Errorf("mutating the clone changed the original violation: %q", orig.Violations[0].Message)
	}
	if orig.Metadata["type"] != "capacity" {
		t.Errorf("mutating the clone changed the original metadata: %v", orig.Metadata["type"])
	}
}

func TestEvaluationResultCloneNil(t *testing.T) {
	var r *EvaluationResult
	if r.Clone() != nil {
		t.Error("Clone of nil result should be nil")
	}
}

func TestDefOptionalHooks(t *testing.T) {
	d := &Def{
		DefID: "hookless",
		EvaluateFunc: func(ctx context.Context, sc Context) (bool, []Violation, error) {
			return true, nil, nil
		},
	}

	sc := Context{"a": 1}
	out, err := d.PreProcess(context.Background(), sc)
	if err != nil {
		t.Fatalf("PreProcess() failed: %v", err)
	}
	if out["a"] != 1 {
		t.Error("nil PreFunc should pass the context through unchanged")
	}
	if err := d.PostProcess(context.Background(), &EvaluationResult{}, sc); err != nil {
		t.Errorf("nil PostFunc should be a no-op, got %v", err)
	}
}
