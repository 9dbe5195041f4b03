package streaming

import "context"

// Event types emitted during instance execution.
const (
	EventStepCompleted     = "step.completed"
	EventStepSkipped       = "step.skipped"
	EventInstanceWaiting   = "instance.waiting"
	EventInputReceived     = "instance.input_received"
	EventInstanceCompleted = "instance.completed"
	EventInstancePaused    = "instance.paused"
	EventInstanceResumed   = "instance.resumed"
	EventInstanceReset     = "instance.reset"
)

// StepEvent is a real-time event emitted as an instance moves through
// its step list.
type StepEvent struct {
	InstanceID string `json:"instance_id"`
	Workflow   string `json:"workflow,omitempty"`
	StepIndex  int    `json:"step_index"`
	StepName   string `json:"step_name,omitempty"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	InstanceID string   `json:"instance_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time instance events.
type EventHub interface {
	Publish(ctx context.Context, event StepEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StepEvent, func(), error)
}
