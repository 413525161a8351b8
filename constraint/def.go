package constraint

import "context"

// Def is a function-backed Constraint, convenient for composing constraints
// in code and in tests without defining a new type per rule.
type Def struct {
	DefID       string
	DefKind     Kind
	DefPriority int
	Meta        map[string]any

	EvaluateFunc func(ctx context.Context, sc Context) (bool, []Violation, error)

	// PreFunc and PostFunc are optional. A nil PreFunc passes the context
	// through unchanged; a nil PostFunc is a no-op.
	PreFunc  func(ctx context.Context, sc Context) (Context, error)
	PostFunc func(ctx context.Context, res *EvaluationResult, sc Context) error
}

var (
	_ Constraint    = (*Def)(nil)
	_ PreProcessor  = (*Def)(nil)
	_ PostProcessor = (*Def)(nil)
)

func (d *Def) ID() string    { return d.DefID }
func (d *Def) Kind() Kind    { return d.DefKind }
func (d *Def) Priority() int { return d.DefPriority }

func (d *Def) Metadata() map[string]any {
	if d.Meta == nil {
		return map[string]any{}
	}
	return d.Meta
}

func (d *Def) Evaluate(ctx context.Context, sc Context) (bool, []Violation, error) {
	return d.EvaluateFunc(ctx, sc)
}

func (d *Def) PreProcess(ctx context.Context, sc Context) (Context, error) {
	if d.PreFunc == nil {
		return sc, nil
	}
	return d.PreFunc(ctx, sc)
}

func (d *Def) PostProcess(ctx context.Context, res *EvaluationResult, sc Context) error {
	if d.PostFunc == nil {
		return nil
	}
	return d.PostFunc(ctx, res, sc)
}
