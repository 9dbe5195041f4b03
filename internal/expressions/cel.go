package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/stepline/stepline/pkg/schema"
)

// CELEngine evaluates step guard conditions using Google's Common
// Expression Language. Guard expressions see a single top-level variable,
// `vars`, holding the instance's variable bindings as map(string, dyn).
type CELEngine struct {
	programs *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	compile := func(expression string) (cel.Program, error) {
		ast, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, exprFailure("CEL", "compile", expression, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, exprFailure("CEL", "program", expression, err)
		}
		return prg, nil
	}

	return &CELEngine{programs: newProgramCache(compile)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs a CEL expression with the bindings exposed as `vars`.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty CEL expression")
	}

	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	if vars == nil {
		vars = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{"vars": vars})
	if err != nil {
		return nil, exprFailure("CEL", "evaluation", expression, err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates a guard expression and requires a boolean
// result. Guards either pass or skip; anything else is a definition bug.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"guard %q evaluated to %T, expected bool", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

var _ Engine = (*CELEngine)(nil)
