package logging

import (
	"context"
	"log/slog"
	"strconv"
)

type ctxKey int

const (
	instanceIDKey ctxKey = iota
	workflowKey
	stepIndexKey
)

// WithInstanceID returns a context with the instance id set.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// WithWorkflow returns a context with the workflow name set.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey, name)
}

// WithStepIndex returns a context with the step index set.
func WithStepIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, stepIndexKey, index)
}

// InstanceID extracts the instance id from the context, or "" if absent.
func InstanceID(ctx context.Context) string {
	v, _ := ctx.Value(instanceIDKey).(string)
	return v
}

// Workflow extracts the workflow name from the context, or "" if absent.
func Workflow(ctx context.Context) string {
	v, _ := ctx.Value(workflowKey).(string)
	return v
}

// StepIndex extracts the step index from the context, or -1 if absent.
func StepIndex(ctx context.Context) int {
	v, ok := ctx.Value(stepIndexKey).(int)
	if !ok {
		return -1
	}
	return v
}

// LogWith copies whatever correlation values the context carries onto
// the logger. Absent values add no attribute.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := InstanceID(ctx); id != "" {
		logger = logger.With(slog.String("instance_id", id))
	}
	if wf := Workflow(ctx); wf != "" {
		logger = logger.With(slog.String("workflow", wf))
	}
	if idx := StepIndex(ctx); idx >= 0 {
		logger = logger.With(slog.Int("step_index", idx))
	}
	return logger
}

// CorrelationHandler decorates an slog.Handler so that instance_id,
// workflow and step_index travel from the context into every record.
// Callers log with InfoContext and the correlation attributes show up
// without being passed explicitly.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner with context correlation.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := InstanceID(ctx); v != "" {
		r.AddAttrs(slog.String("instance_id", v))
	}
	if v := Workflow(ctx); v != "" {
		r.AddAttrs(slog.String("workflow", v))
	}
	if v := StepIndex(ctx); v >= 0 {
		r.AddAttrs(slog.String("step_index", strconv.Itoa(v)))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
