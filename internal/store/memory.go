package store

import (
	"context"
	"sync"
	"time"

	"github.com/stepline/stepline/pkg/schema"
)

// MemoryStore is an in-memory StateStore for tests and embedding.
// States are cloned on every read and write so callers never share
// memory with the stored document.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ExecutionState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*ExecutionState)}
}

func (s *MemoryStore) Load(_ context.Context, instanceID string) (*ExecutionState, error) {
	if err := validInstanceID(instanceID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[instanceID]
	if !ok {
		return nil, stateNotFound(instanceID)
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, state *ExecutionState) error {
	if state == nil {
		return schema.NewError(schema.ErrCodePersistence, "state is nil")
	}
	if err := validInstanceID(state.InstanceID); err != nil {
		return err
	}

	cp := state.Clone()
	cp.UpdatedAt = time.Now().UTC()
	state.UpdatedAt = cp.UpdatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.InstanceID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, instanceID string) error {
	if err := validInstanceID(instanceID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, instanceID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
