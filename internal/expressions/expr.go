package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/stepline/stepline/pkg/schema"
)

// ExprEngine evaluates route table conditions using expr-lang/expr.
// Variable bindings are injected as top-level expression variables, so a
// route can say `project_scale == "enterprise"` directly. Undefined
// variables are allowed and come back nil, which EvaluateBool treats as
// false.
type ExprEngine struct {
	programs *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr engine.
func NewExprEngine() *ExprEngine {
	compile := func(expression string) (*vm.Program, error) {
		prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, exprFailure("expr", "compile", expression, err)
		}
		return prg, nil
	}
	return &ExprEngine{programs: newProgramCache(compile)}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs an expression with the variable bindings as its
// environment.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expr expression")
	}

	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	if vars == nil {
		vars = map[string]any{}
	}
	out, err := vm.Run(prg, vars)
	if err != nil {
		return nil, exprFailure("expr", "evaluation", expression, err)
	}
	return out, nil
}

// EvaluateBool evaluates a route condition as a boolean. Non-boolean
// results are truthiness-coerced the way route authors expect: nil and
// empty string are false, everything else is true.
func (e *ExprEngine) EvaluateBool(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, vars)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case string:
		return v != "", nil
	default:
		return true, nil
	}
}

var _ Engine = (*ExprEngine)(nil)
