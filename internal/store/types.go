package store

import (
	"encoding/json"
	"time"
)

// ExecutionState is the durable record of one workflow instance. The
// store owns it exclusively: the executor works on a transient copy per
// call and round-trips every mutation through Save.
type ExecutionState struct {
	InstanceID       string         `json:"instance_id"`
	Workflow         string         `json:"workflow"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	Completed        bool           `json:"completed"`
	Paused           bool           `json:"paused"`
	PausedAt         *time.Time     `json:"pausedAt,omitempty"`
	Variables        map[string]any `json:"variables"`
	Waiting          *WaitingMarker `json:"waiting,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// WaitingMarker records which variable and step index a suspended
// instance is blocked on. Present iff the instance is suspended at an
// elicit-style step whose side effect has not yet run.
type WaitingMarker struct {
	Variable  string `json:"variable"`
	StepIndex int    `json:"stepIndex"`
}

// NewExecutionState creates a fresh state at index 0 with the given
// default variable bindings copied in.
func NewExecutionState(instanceID, workflow string, defaults map[string]any) *ExecutionState {
	now := time.Now().UTC()
	return &ExecutionState{
		InstanceID: instanceID,
		Workflow:   workflow,
		Variables:  copyVariables(defaults),
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy. Callers holding a clone cannot mutate the
// stored state through it.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Variables = copyVariables(s.Variables)
	if s.Waiting != nil {
		w := *s.Waiting
		cp.Waiting = &w
	}
	if s.PausedAt != nil {
		t := *s.PausedAt
		cp.PausedAt = &t
	}
	return &cp
}

// copyVariables deep-copies a variable binding map. Values are
// JSON-shaped (maps, slices, scalars), so a JSON round-trip is both
// correct and cheap relative to step dispatch.
func copyVariables(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	if len(vars) == 0 {
		return out
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		// Non-JSON-serializable values only appear through programmer
		// error; fall back to a shallow copy.
		for k, v := range vars {
			out[k] = v
		}
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		for k, v := range vars {
			out[k] = v
		}
	}
	return out
}
