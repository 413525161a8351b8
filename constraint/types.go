package constraint

import (
	"context"
	"time"
)

// Kind classifies how binding a constraint is.
type Kind string

const (
	// KindHard constraints must hold for a schedule to be valid.
	KindHard Kind = "hard"
	// KindSoft constraints are preferences; violations are reported but tolerable.
	KindSoft Kind = "soft"
	// KindRequirement constraints encode externally imposed requirements.
	KindRequirement Kind = "requirement"
)

// Severity ranks how serious a violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context is the schedule state a constraint is evaluated against.
// Structurally identical contexts are treated as equal regardless of
// map key ordering.
type Context map[string]any

// Violation is a structured complaint produced by a failed evaluation.
// The Context map may carry a "requirement" tag, which contradiction
// detection compares against other violations' tags.
type Violation struct {
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Context  map[string]any `json:"context,omitempty"`
}

// Constraint is a named predicate over a scheduling context.
type Constraint interface {
	ID() string
	Kind() Kind
	Priority() int

	// Metadata returns free-form tags attached to the constraint. Tags such
	// as "type", "timeSlot", "resource" and "priority" feed conflict
	// detection; everything else is opaque to the engine.
	Metadata() map[string]any

	// Evaluate checks the constraint against the schedule context. A false
	// return should be accompanied by at least one violation explaining why.
	Evaluate(ctx context.Context, sc Context) (satisfied bool, violations []Violation, err error)
}

// PreProcessor is an optional hook run before Evaluate. It may return a
// transformed copy of the schedule context.
type PreProcessor interface {
	PreProcess(ctx context.Context, sc Context) (Context, error)
}

// PostProcessor is an optional hook run after Evaluate, with access to the
// assembled result.
type PostProcessor interface {
	PostProcess(ctx context.Context, res *EvaluationResult, sc Context) error
}

// Metadata keys set on every EvaluationResult.
const (
	MetaEvaluatedAt = "evaluatedAt"
	MetaKind        = "kind"
	MetaPriority    = "constraintPriority"
	MetaError       = "error"
)

// EvaluationResult is the outcome of evaluating one constraint. It is
// immutable after creation except for patches applied by conflict
// resolution.
type EvaluationResult struct {
	ConstraintID string         `json:"constraintId"`
	Satisfied    bool           `json:"satisfied"`
	Violations   []Violation    `json:"violations"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewResult assembles a result for c, merging the constraint's free-form
// metadata tags before stamping the evaluation fields. The constraint's own
// priority is recorded under MetaPriority so a free-form "priority" tag is
// not shadowed.
func NewResult(c Constraint, satisfied bool, violations []Violation) *EvaluationResult {
	md := make(map[string]any, len(c.Metadata())+3)
	for k, v := range c.Metadata() {
		md[k] = v
	}
	md[MetaEvaluatedAt] = time.Now()
	md[MetaKind] = c.Kind()
	md[MetaPriority] = c.Priority()

	if violations == nil {
		violations = []Violation{}
	}

	return &EvaluationResult{
		ConstraintID: c.ID(),
		Satisfied:    satisfied,
		Violations:   violations,
		Metadata:     md,
	}
}

// Clone returns a deep-enough copy: violations and the metadata map are
// copied so conflict-resolution patches never reach back into shared state.
func (r *EvaluationResult) Clone() *EvaluationResult {
	if r == nil {
		return nil
	}
	cp := &EvaluationResult{
		ConstraintID: r.ConstraintID,
		Satisfied:    r.Satisfied,
		Violations:   make([]Violation, len(r.Violations)),
		Metadata:     make(map[string]any, len(r.Metadata)),
	}
	copy(cp.Violations, r.Violations)
	for k, v := range r.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

// TimeSlot is a half-open [Start, End) interval used in "timeSlot" metadata
// tags. Units are caller-defined (the engine only compares them).
type TimeSlot struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Overlaps reports whether two slots overlap. Boundary-touching slots do not.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return !(s.End <= o.Start || o.End <= s.Start)
}
