package actions

import (
	"context"

	"github.com/stepline/stepline/pkg/schema"
)

// SubWorkflowRunner executes a child workflow instance to its terminal
// outcome and returns the child's final variable context. The executor
// satisfies this by wiring it after construction (late-bind), which
// keeps the actions package free of an engine import.
type SubWorkflowRunner func(ctx context.Context, workflow string, inputs map[string]any, parentID string) (map[string]any, error)

// SubWorkflowDeps holds the dependency injected into workflow-kind handlers.
type SubWorkflowDeps struct {
	Run SubWorkflowRunner
}

// SubWorkflowHandlers returns the handlers for the workflow and
// sub-workflow kinds. Both dispatch to the same runner; the two kinds
// are distinct in definitions but identical in execution.
func SubWorkflowHandlers(deps SubWorkflowDeps) []Handler {
	return []Handler{
		&subWorkflowHandler{kind: schema.ActionWorkflow, deps: deps},
		&subWorkflowHandler{kind: schema.ActionSubWorkflow, deps: deps},
	}
}

// RegisterSubWorkflowHandlers registers the workflow-kind handlers.
// Called after the executor is created so the runner can be wired.
func RegisterSubWorkflowHandlers(reg *Registry, deps SubWorkflowDeps) error {
	for _, h := range SubWorkflowHandlers(deps) {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

type subWorkflowHandler struct {
	kind schema.ActionKind
	deps SubWorkflowDeps
}

func (h *subWorkflowHandler) Kind() schema.ActionKind { return h.kind }

func (h *subWorkflowHandler) Execute(ctx context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.SubWorkflowParams](req.Params)
	if err != nil {
		return Fail(err)
	}
	if p.Workflow == "" {
		return Failf("%s step %q names no workflow", h.kind, req.Step.Name)
	}
	if h.deps.Run == nil {
		return Failf("%s: sub-workflow runner not configured", h.kind)
	}

	childVars, err := h.deps.Run(ctx, p.Workflow, p.Inputs, req.InstanceID)
	if err != nil {
		return Fail(schema.NewErrorf(schema.ErrCodeHandler, "%s: child workflow %q failed: %v", h.kind, p.Workflow, err).WithCause(err))
	}

	if p.Variable == "" {
		return ContinueNoop()
	}
	return ContinueWith(p.Variable, childVars)
}
