package engine

import (
	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/pkg/schema"
)

// Status tags the outcome of one ExecuteNextStep call. Waiting is a
// first-class status distinct from both success and failure: callers
// branch on the tag, never on error text.
type Status string

const (
	// StatusAdvanced means one step ran (or was skipped) and the cursor moved.
	StatusAdvanced Status = "advanced"
	// StatusWaiting means the instance is suspended on an elicit step.
	StatusWaiting Status = "waiting"
	// StatusCompleted means the instance has run past its last step.
	StatusCompleted Status = "completed"
	// StatusFailed means the call failed; persisted state is unchanged.
	StatusFailed Status = "failed"
)

// ExecutionResult is returned by ExecuteNextStep and SubmitInput. State
// is always a deep copy; mutating it never leaks into the store.
type ExecutionResult struct {
	Status Status                `json:"status"`
	Err    *schema.SteplineError `json:"error,omitempty"`
	State  *store.ExecutionState `json:"state,omitempty"`
}

func advanced(state *store.ExecutionState) *ExecutionResult {
	return &ExecutionResult{Status: StatusAdvanced, State: state}
}

func waiting(state *store.ExecutionState) *ExecutionResult {
	return &ExecutionResult{Status: StatusWaiting, State: state}
}

func completed(state *store.ExecutionState) *ExecutionResult {
	return &ExecutionResult{Status: StatusCompleted, State: state}
}

func failed(err *schema.SteplineError, state *store.ExecutionState) *ExecutionResult {
	return &ExecutionResult{Status: StatusFailed, Err: err, State: state}
}
