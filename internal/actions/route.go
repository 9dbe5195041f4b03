package actions

import (
	"context"

	"github.com/stepline/stepline/internal/expressions"
	"github.com/stepline/stepline/pkg/schema"
)

// RouteHandler evaluates an ordered routing table against the variable
// context and binds the first matching target. An entry with an empty
// `when` always matches, so it works as a trailing default.
type RouteHandler struct {
	engine *expressions.ExprEngine
}

// NewRouteHandler builds a route handler over the given expression engine.
func NewRouteHandler(engine *expressions.ExprEngine) *RouteHandler {
	return &RouteHandler{engine: engine}
}

func (h *RouteHandler) Kind() schema.ActionKind { return schema.ActionRoute }

func (h *RouteHandler) Execute(ctx context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.RouteParams](req.Params)
	if err != nil {
		return Fail(err)
	}
	if p.Variable == "" {
		return Failf("route step %q has no target variable", req.Step.Name)
	}
	if len(p.Routes) == 0 {
		return Failf("route step %q has an empty routing table", req.Step.Name)
	}
	if h.engine == nil {
		return Failf("route: expression engine not configured")
	}

	for _, route := range p.Routes {
		if route.When == "" {
			return ContinueWith(p.Variable, route.Target)
		}
		matched, err := h.engine.EvaluateBool(ctx, route.When, req.Variables)
		if err != nil {
			return Fail(schema.NewErrorf(schema.ErrCodeExpression, "route step %q: condition %q: %v", req.Step.Name, route.When, err).WithCause(err))
		}
		if matched {
			return ContinueWith(p.Variable, route.Target)
		}
	}

	return Failf("route step %q: no route matched and no default provided", req.Step.Name)
}
