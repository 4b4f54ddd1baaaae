package expressions

import "context"

// Engine evaluates cancel-condition expressions over the current values of a
// simulation unit's variables. Two implementations: Expr (default, bare
// variable names) and CEL (variables exposed under the top-level map "vars").
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}
