package main

import (
	"github.com/schedulekit/constraints/constraint"
)

// API request and response models.

// EvaluateRequest asks for a single constraint evaluation.
type EvaluateRequest struct {
	ConstraintID string             `json:"constraintId"`
	Context      constraint.Context `json:"context"`
	SkipCache    bool               `json:"skipCache,omitempty"`
}

// BatchEvaluateRequest asks for a batch evaluation. Exactly one of
// Constraints, Kind or Priority selects what runs.
type BatchEvaluateRequest struct {
	Constraints      []string           `json:"constraints,omitempty"`
	Kind             string             `json:"kind,omitempty"`
	Priority         *int               `json:"priority,omitempty"`
	Context          constraint.Context `json:"context"`
	SkipCache        bool               `json:"skipCache,omitempty"`
	ResolveConflicts bool               `json:"resolveConflicts,omitempty"`
}

// CreateConstraintRequest is the body for creating a stored constraint.
type CreateConstraintRequest struct {
	Name              string              `json:"name"`
	Kind              constraint.Kind     `json:"kind"`
	Priority          int                 `json:"priority"`
	Expression        string              `json:"expression"`
	ViolationMessage  string              `json:"violationMessage,omitempty"`
	ViolationSeverity constraint.Severity `json:"violationSeverity,omitempty"`
	Metadata          map[string]any      `json:"metadata,omitempty"`
	Active            bool                `json:"active"`
}

// UpdateConstraintRequest is the body for updating a stored constraint.
type UpdateConstraintRequest struct {
	Name              string              `json:"name"`
	Kind              constraint.Kind     `json:"kind"`
	Priority          int                 `json:"priority"`
	Expression        string              `json:"expression"`
	ViolationMessage  string              `json:"violationMessage,omitempty"`
	ViolationSeverity constraint.Severity `json:"violationSeverity,omitempty"`
	Metadata          map[string]any      `json:"metadata,omitempty"`
	Active            bool                `json:"active"`
}
