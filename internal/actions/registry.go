package actions

import (
	"context"
	"sort"
	"sync"

	"github.com/stepline/stepline/pkg/schema"
)

// Registry is the concrete thread-safe handler registry, keyed by
// action kind. The kind set is closed, so Dispatch on an unknown kind
// is a definition error, never a silent skip.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.ActionKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[schema.ActionKind]Handler),
	}
}

// Register adds a handler to the registry. Returns error on duplicate kind.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	kind := h.Kind()
	if !schema.ValidKind(kind) {
		return schema.NewErrorf(schema.ErrCodeValidation, "handler kind %q is not a known action kind", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for kind %q already registered", kind)
	}

	r.handlers[kind] = h
	return nil
}

// Get retrieves a handler by kind.
func (r *Registry) Get(kind schema.ActionKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "no handler registered for kind %q", kind)
	}
	return h, nil
}

// Has checks if a handler is registered for the kind.
func (r *Registry) Has(kind schema.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []schema.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]schema.ActionKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch looks up the handler for the request's step kind and runs
// it. Panics inside a handler are recovered into a failed outcome so
// one misbehaving handler cannot take down the executor.
func (r *Registry) Dispatch(ctx context.Context, req Request) (out Outcome) {
	h, err := r.Get(req.Step.Kind)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{
				Kind: OutcomeFailed,
				Err: schema.NewErrorf(schema.ErrCodeHandler, "handler for kind %q panicked: %v", req.Step.Kind, rec).
					WithStep(req.StepIndex),
			}
		}
	}()

	return h.Execute(ctx, req)
}
