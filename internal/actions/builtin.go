package actions

import (
	"context"
	"log/slog"

	"github.com/stepline/stepline/pkg/schema"
)

// BuiltinHandlers returns the two in-core handlers that need no
// collaborators: display and elicit.
func BuiltinHandlers(logger *slog.Logger) []Handler {
	return []Handler{
		&displayHandler{logger: logger},
		&elicitHandler{},
	}
}

// RegisterBuiltins registers the in-core handlers into the registry.
func RegisterBuiltins(reg *Registry, logger *slog.Logger) error {
	for _, h := range BuiltinHandlers(logger) {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// --- display ---

type displayHandler struct {
	logger *slog.Logger
}

func (h *displayHandler) Kind() schema.ActionKind { return schema.ActionDisplay }

func (h *displayHandler) Execute(_ context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.DisplayParams](req.Params)
	if err != nil {
		return Fail(err)
	}

	logger := h.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("display",
		slog.String("instance_id", req.InstanceID),
		slog.String("step", req.Step.Name),
		slog.String("prompt", p.Prompt),
	)
	return ContinueNoop()
}

// --- elicit ---

type elicitHandler struct{}

func (h *elicitHandler) Kind() schema.ActionKind { return schema.ActionElicit }

func (h *elicitHandler) Execute(_ context.Context, req Request) Outcome {
	p, err := schema.DecodeParams[schema.ElicitParams](req.Params)
	if err != nil {
		return Fail(err)
	}
	if p.Variable == "" {
		return Failf("elicit step %q has no variable to wait on", req.Step.Name)
	}
	return SuspendFor(p.Variable, req.StepIndex)
}
