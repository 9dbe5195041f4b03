package engine

import (
	"sync"

	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/pkg/schema"
)

// InstanceStatus is the lifecycle state of a workflow instance, derived
// from its persisted record rather than stored alongside it. A single
// source of truth means status can never drift from the cursor.
type InstanceStatus string

const (
	StatusNotStarted      InstanceStatus = "not_started"
	StatusRunning         InstanceStatus = "running"
	StatusWaitingForInput InstanceStatus = "waiting_for_input"
	StatusInstanceDone    InstanceStatus = "completed"
)

// ValidInstanceTransitions defines the allowed lifecycle transitions.
// Failure is deliberately absent: a failed ExecuteNextStep call leaves
// the instance where it was, so there is no failed state to enter.
var ValidInstanceTransitions = map[InstanceStatus][]InstanceStatus{
	StatusNotStarted:      {StatusRunning},
	StatusRunning:         {StatusRunning, StatusWaitingForInput, StatusInstanceDone},
	StatusWaitingForInput: {StatusRunning},
	StatusInstanceDone:    {},
}

// StatusOf derives the lifecycle status from a persisted state record.
// A nil state means the instance was never initialized.
func StatusOf(state *store.ExecutionState) InstanceStatus {
	switch {
	case state == nil:
		return StatusNotStarted
	case state.Completed:
		return StatusInstanceDone
	case state.Waiting != nil:
		return StatusWaitingForInput
	default:
		return StatusRunning
	}
}

// TransitionHook is called before or after a lifecycle transition.
type TransitionHook func(from, to InstanceStatus) error

type hookKey struct {
	from, to InstanceStatus
}

// InstanceFSM validates lifecycle transitions and runs registered hooks
// around them. The caller (Executor) persists the new state.
type InstanceFSM struct {
	mu     sync.Mutex
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewInstanceFSM creates an FSM with no hooks registered.
func NewInstanceFSM() *InstanceFSM {
	return &InstanceFSM{
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *InstanceFSM) OnBefore(from, to InstanceStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *InstanceFSM) OnAfter(from, to InstanceStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a lifecycle transition.
func (f *InstanceFSM) Transition(instanceID string, from, to InstanceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidInstanceTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid instance transition: %s -> %s", from, to).
			WithDetails(map[string]any{"instance_id": instanceID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidInstanceTransition(from, to InstanceStatus) bool {
	allowed, ok := ValidInstanceTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
