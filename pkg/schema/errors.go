package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeDefinition        = "DEFINITION_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeHandler           = "HANDLER_ERROR"
	ErrCodePersistence       = "PERSISTENCE_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInputRejected     = "INPUT_REJECTED"
	ErrCodeExpression        = "EXPRESSION_ERROR"
)

// SteplineError is the structured error type for all engine operations.
type SteplineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepIndex int            `json:"step_index,omitempty"`
	Cause     error          `json:"-"`

	hasStep bool
}

func (e *SteplineError) Error() string {
	if e.hasStep {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepIndex, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SteplineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SteplineError.
func NewError(code, message string) *SteplineError {
	return &SteplineError{Code: code, Message: message}
}

// NewErrorf creates a new SteplineError with a formatted message.
func NewErrorf(code, format string, args ...any) *SteplineError {
	return &SteplineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step index to the error.
func (e *SteplineError) WithStep(index int) *SteplineError {
	e.StepIndex = index
	e.hasStep = true
	return e
}

// HasStep reports whether a step index was attached via WithStep.
// The zero StepIndex is a valid index, so presence is tracked separately.
func (e *SteplineError) HasStep() bool {
	return e.hasStep
}

// WithCause attaches an underlying cause.
func (e *SteplineError) WithCause(err error) *SteplineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SteplineError) WithDetails(details map[string]any) *SteplineError {
	e.Details = details
	return e
}

// CodeOf returns the structured code of err, or "" when err is not a SteplineError.
func CodeOf(err error) string {
	if se, ok := err.(*SteplineError); ok {
		return se.Code
	}
	return ""
}
