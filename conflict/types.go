package conflict

import (
	"github.com/schedulekit/constraints/constraint"
)

// Type classifies a detected contradiction.
type Type string

const (
	TypeLogical  Type = "logical"
	TypeTemporal Type = "temporal"
	TypeResource Type = "resource"
	TypePriority Type = "priority"
)

// Conflict is a detected contradiction between two or more evaluation
// results. It is created by detection, consumed by resolution, and never
// mutated.
type Conflict struct {
	ID            string              `json:"id"`
	Type          Type                `json:"type"`
	ConstraintIDs []string            `json:"constraintIds"`
	Description   string              `json:"description"`
	Severity      constraint.Severity `json:"severity"`
	Resolvable    bool                `json:"resolvable"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

// Action names the kind of patch a resolution applies.
type Action string

const (
	ActionOverride Action = "override"
	ActionModify   Action = "modify"
	ActionMerge    Action = "merge"
)

// Resolution is the outcome of attempting to repair one conflict. On success
// Changes holds the patch applied to TargetID's result; on failure Reason
// says why the conflict was left standing.
type Resolution struct {
	Success  bool           `json:"success"`
	Conflict Conflict       `json:"conflict"`
	Action   Action         `json:"action,omitempty"`
	TargetID string         `json:"targetId,omitempty"`
	Changes  map[string]any `json:"changes,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Strategy string         `json:"strategy,omitempty"`
}

// Patch field names understood by applyPatch.
const (
	changeSatisfied  = "satisfied"
	changeViolations = "violations"
	changeMetadata   = "metadata"
)

// applyPatch merges a resolution's changes into a result. Unknown fields are
// folded into the result metadata so strategy-specific annotations survive.
func applyPatch(res *constraint.EvaluationResult, changes map[string]any) {
	for field, value := range changes {
		switch field {
		case changeSatisfied:
			if b, ok := value.(bool); ok {
				res.Satisfied = b
			}
		case changeViolations:
			if vs, ok := value.([]constraint.Violation); ok {
				res.Violations = vs
			}
		case changeMetadata:
			if md, ok := value.(map[string]any); ok {
				if res.Metadata == nil {
					res.Metadata = make(map[string]any, len(md))
				}
				for k, v := range md {
					res.Metadata[k] = v
				}
			}
		default:
			if res.Metadata == nil {
				res.Metadata = make(map[string]any)
			}
			res.Metadata[field] = value
		}
	}
}
