package expressions

import (
	"context"
	"sync"

	"github.com/stepline/stepline/pkg/schema"
)

// Engine evaluates expressions against a workflow instance's variable
// context. Three implementations: CEL (step guards), Expr (route tables),
// GoJQ (variable path queries inside param interpolation).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error)
}

// programCache memoizes compiled programs per expression text. Workflow
// definitions repeat the same guards and routes across instances, so
// compilation is paid once per expression, not once per step.
type programCache[P any] struct {
	compile func(expression string) (P, error)

	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any](compile func(string) (P, error)) *programCache[P] {
	return &programCache[P]{
		compile:  compile,
		programs: make(map[string]P),
	}
}

func (c *programCache[P]) get(expression string) (P, error) {
	c.mu.RLock()
	prg, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.programs[expression]; ok {
		return prg, nil
	}

	prg, err := c.compile(expression)
	if err != nil {
		var zero P
		return zero, err
	}
	c.programs[expression] = prg
	return prg, nil
}

// exprFailure wraps an engine error into the structured expression error
// all three engines report through.
func exprFailure(engine, phase, expression string, err error) *schema.SteplineError {
	return schema.NewErrorf(schema.ErrCodeExpression,
		"%s %s error in %q: %s", engine, phase, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
