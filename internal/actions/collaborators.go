package actions

import (
	"context"
	"fmt"

	"github.com/stepline/stepline/pkg/schema"
)

// Reflector produces a generative answer to a prompt over the current
// variable context. The engine ships without one; hosts wire in their
// LLM (or rule-based) collaborator.
type Reflector func(ctx context.Context, prompt string, vars map[string]any) (any, error)

// Renderer expands a template against the variable context.
type Renderer func(ctx context.Context, template string, vars map[string]any) (string, error)

// StateMachineLoader resolves a named state-machine document.
type StateMachineLoader func(ctx context.Context, machine string) (map[string]any, error)

// CollaboratorDeps holds the injectable seams for the delegating
// handlers. Any nil seam makes the corresponding handler fail at
// execution time, not at registration.
type CollaboratorDeps struct {
	Reflect     Reflector
	Render      Renderer
	LoadMachine StateMachineLoader
}

// CollaboratorHandlers returns the reflect, template and
// load_state_machine handlers bound to the given seams.
func CollaboratorHandlers(deps CollaboratorDeps) []Handler {
	return []Handler{
		&reflectHandler{deps: deps},
		&templateHandler{deps: deps},
		&stateMachineHandler{deps: deps},
	}
}

// RegisterCollaborators registers the delegating handlers into the registry.
func RegisterCollaborators(reg *Registry, deps CollaboratorDeps) error {
	for _, h := range CollaboratorHandlers(deps) {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// --- reflect ---

type reflectHandler struct {
	deps CollaboratorDeps
}

func (h *reflectHandler) Kind() schema.ActionKind { return schema.ActionReflect }

func (h *reflectHandler) Execute(ctx context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.ReflectParams](req.Params)
	if err != nil {
		return Fail(err)
	}
	if h.deps.Reflect == nil {
		return Failf("reflect: no reflector configured")
	}

	result, err := h.deps.Reflect(ctx, p.Prompt, req.Variables)
	if err != nil {
		return Fail(schema.NewErrorf(schema.ErrCodeHandler, "reflect: collaborator failed: %v", err).WithCause(err))
	}

	if p.Variable == "" {
		return ContinueNoop()
	}
	return ContinueWith(p.Variable, result)
}

// --- template ---

type templateHandler struct {
	deps CollaboratorDeps
}

func (h *templateHandler) Kind() schema.ActionKind { return schema.ActionTemplate }

func (h *templateHandler) Execute(ctx context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.TemplateParams](req.Params)
	if err != nil {
		return Fail(err)
	}
	if h.deps.Render == nil {
		return Failf("template: no renderer configured")
	}

	rendered, err := h.deps.Render(ctx, p.Template, req.Variables)
	if err != nil {
		return Fail(schema.NewErrorf(schema.ErrCodeHandler, "template: render failed: %v", err).WithCause(err))
	}

	variable := p.Variable
	if variable == "" && p.Output != "" {
		// No explicit variable: record where the rendered document
		// should land so a downstream step or host can write it out.
		return ContinueWith(fmt.Sprintf("rendered:%s", p.Output), rendered)
	}
	if variable == "" {
		return ContinueNoop()
	}
	return ContinueWith(variable, rendered)
}

// --- load_state_machine ---

type stateMachineHandler struct {
	deps CollaboratorDeps
}

func (h *stateMachineHandler) Kind() schema.ActionKind { return schema.ActionLoadStateMachine }

func (h *stateMachineHandler) Execute(ctx context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.LoadStateMachineParams](req.Params)
	if err != nil {
		return Fail(err)
	}
	if h.deps.LoadMachine == nil {
		return Failf("load_state_machine: no loader configured")
	}

	doc, err := h.deps.LoadMachine(ctx, p.Machine)
	if err != nil {
		return Fail(schema.NewErrorf(schema.ErrCodeHandler, "load_state_machine: %q: %v", p.Machine, err).WithCause(err))
	}

	variable := p.Variable
	if variable == "" {
		variable = "state_machine"
	}
	return ContinueWith(variable, doc)
}
