package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/stepline/stepline/pkg/schema"
)

// GoJQEngine evaluates jq queries against the variable context. Param
// interpolation uses it to resolve `${{ .path.to.value }}` tokens.
type GoJQEngine struct {
	programs *programCache[*gojq.Code]
}

// NewGoJQEngine creates a new GoJQ engine.
func NewGoJQEngine() *GoJQEngine {
	compile := func(expression string) (*gojq.Code, error) {
		query, err := gojq.Parse(expression)
		if err != nil {
			return nil, exprFailure("jq", "parse", expression, err)
		}
		code, err := gojq.Compile(query,
			// Empty environ blocks $ENV and env access.
			gojq.WithEnvironLoader(func() []string { return nil }),
		)
		if err != nil {
			return nil, exprFailure("jq", "compile", expression, err)
		}
		return code, nil
	}
	return &GoJQEngine{programs: newProgramCache(compile)}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs a jq query with the variable bindings as the input
// object. A query yielding one output returns it directly; several
// outputs are collected into a []any; none returns nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty jq expression")
	}

	code, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, jqValue(vars))
	var outputs []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if qerr, isErr := val.(error); isErr {
			return nil, exprFailure("jq", "evaluation", expression, qerr)
		}
		outputs = append(outputs, val)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

// jqValue rewrites Go values into the types gojq operates on. jq has a
// single number type, float64.
func jqValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jqValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jqValue(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
