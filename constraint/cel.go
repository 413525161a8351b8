package constraint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// celCostLimit bounds expression evaluation cost to prevent resource
// exhaustion from runaway expressions.
const celCostLimit = 1_000_000

// Definition is a stored, declarative constraint: a CEL expression over the
// schedule context plus the violation it produces when the expression is
// false. This is the row shape the Postgres registry persists.
type Definition struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Kind              Kind           `json:"kind"`
	Priority          int            `json:"priority"`
	Expression        string         `json:"expression"`
	ViolationMessage  string         `json:"violationMessage"`
	ViolationSeverity Severity       `json:"violationSeverity"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Active            bool           `json:"active"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// NewCELEnv creates the CEL environment constraint expressions compile
// against. The whole schedule context is exposed as a single dynamic
// "schedule" variable, e.g. `schedule.teams.size() <= schedule.venues.size()`.
func NewCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(cel.Variable("schedule", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CELConstraint is a Constraint whose predicate is a compiled CEL program.
type CELConstraint struct {
	def     Definition
	program cel.Program
}

var _ Constraint = (*CELConstraint)(nil)

// Compile type-checks and compiles a definition's expression. Compilation
// errors are returned verbatim so authors can fix the expression.
func Compile(env *cel.Env, def Definition) (*CELConstraint, error) {
	if def.ID == "" {
		return nil, ErrInvalidID
	}

	ast, issues := env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error in constraint %s: %w", def.ID, issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error for constraint %s: %w", def.ID, err)
	}

	return &CELConstraint{def: def, program: prog}, nil
}

// MustCompile is Compile for statically known expressions; it panics on error.
func MustCompile(env *cel.Env, def Definition) *CELConstraint {
	c, err := Compile(env, def)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CELConstraint) ID() string    { return c.def.ID }
func (c *CELConstraint) Kind() Kind    { return c.def.Kind }
func (c *CELConstraint) Priority() int { return c.def.Priority }

func (c *CELConstraint) Metadata() map[string]any {
	if c.def.Metadata == nil {
		return map[string]any{}
	}
	return c.def.Metadata
}

// Definition returns the definition this constraint was compiled from.
func (c *CELConstraint) Definition() Definition { return c.def }

// Evaluate runs the compiled program against the schedule context.
// Non-boolean expression results are treated as not satisfied.
func (c *CELConstraint) Evaluate(_ context.Context, sc Context) (bool, []Violation, error) {
	out, _, err := c.program.Eval(map[string]any{"schedule": map[string]any(sc)})
	if err != nil {
		return false, nil, fmt.Errorf("evaluating constraint %s: %w", c.def.ID, err)
	}

	satisfied := false
	if b, ok := out.Value().(bool); ok {
		satisfied = b
	}
	if satisfied {
		return true, nil, nil
	}

	msg := c.def.ViolationMessage
	if msg == "" {
		msg = fmt.Sprintf("constraint %s not satisfied", c.def.ID)
	}
	sev := c.def.ViolationSeverity
	if sev == "" {
		sev = SeverityError
	}

	return false, []Violation{{
		Message:  msg,
		Severity: sev,
		Context:  map[string]any{"expression": c.def.Expression},
	}}, nil
}
