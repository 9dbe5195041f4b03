package store

import "context"

// StateStore is the durable persistence contract for execution states.
// Exactly one state exists per instance id. Save must be atomic:
// concurrent readers never observe a torn document, and a crash
// mid-write leaves either the old or the new state, never a mixture.
// All implementations must be safe for concurrent use.
type StateStore interface {
	// Load returns the state for an instance id, or a NOT_FOUND coded
	// error when no state exists.
	Load(ctx context.Context, instanceID string) (*ExecutionState, error)

	// Save atomically replaces the state for state.InstanceID.
	Save(ctx context.Context, state *ExecutionState) error

	// Delete removes the state for an instance id. Deleting an absent
	// id is not an error.
	Delete(ctx context.Context, instanceID string) error

	// List returns all known instance ids.
	List(ctx context.Context) ([]string, error)

	// Close releases any underlying resources.
	Close() error
}
