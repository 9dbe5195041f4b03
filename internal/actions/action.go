package actions

import (
	"context"
	"encoding/json"

	"github.com/stepline/stepline/pkg/schema"
)

// Handler executes one action kind. Handlers never touch the store:
// they report what happened through an Outcome and the executor applies
// it to persisted state.
type Handler interface {
	Kind() schema.ActionKind
	Execute(ctx context.Context, req Request) Outcome
}

// Request is the data handed to a handler at dispatch time. Params have
// already been resolved against the variable context; Variables is a
// private copy the handler may read freely but whose mutations are
// discarded.
type Request struct {
	InstanceID string
	Workflow   string
	StepIndex  int
	Step       schema.Step
	Params     json.RawMessage
	Variables  map[string]any
}

// OutcomeKind tags the three handler outcomes. Suspension is a
// first-class outcome, not an error dressed up in a message string:
// callers switch on the tag instead of matching substrings.
type OutcomeKind int

const (
	// OutcomeContinue advances the instance to the next step.
	OutcomeContinue OutcomeKind = iota
	// OutcomeSuspend parks the instance on a waiting marker.
	OutcomeSuspend
	// OutcomeFailed reports a call-scoped failure; persisted state is
	// left untouched so the same call can be retried.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeSuspend:
		return "suspend"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a handler execution.
type Outcome struct {
	Kind OutcomeKind

	// Continue: optional variable binding.
	Variable string
	Value    any
	HasValue bool

	// Suspend: which variable and step index the instance now waits on.
	StepIndex int

	// Failed: the underlying error.
	Err error
}

// ContinueNoop advances without binding anything.
func ContinueNoop() Outcome {
	return Outcome{Kind: OutcomeContinue}
}

// ContinueWith advances and binds value to variable.
func ContinueWith(variable string, value any) Outcome {
	return Outcome{Kind: OutcomeContinue, Variable: variable, Value: value, HasValue: true}
}

// SuspendFor parks the instance waiting for variable at stepIndex.
func SuspendFor(variable string, stepIndex int) Outcome {
	return Outcome{Kind: OutcomeSuspend, Variable: variable, StepIndex: stepIndex}
}

// Fail wraps err into a failed outcome, coercing non-structured errors
// into HANDLER_ERROR.
func Fail(err error) Outcome {
	if _, ok := err.(*schema.SteplineError); !ok {
		err = schema.NewError(schema.ErrCodeHandler, err.Error()).WithCause(err)
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Failf builds a failed outcome with a formatted HANDLER_ERROR.
func Failf(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: schema.NewErrorf(schema.ErrCodeHandler, format, args...)}
}
