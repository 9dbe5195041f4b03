package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stepline/stepline/pkg/schema"
)

// FileStore persists one JSON document per instance under a root
// directory. Writes go through a temp file in the same directory followed
// by fsync and rename, so a crash mid-write leaves either the old or the
// new document on disk.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileStore creates the root directory if needed and returns a FileStore.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "create state dir: %s", err.Error()).WithCause(err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(instanceID string) string {
	return filepath.Join(s.root, instanceID+".json")
}

// Load reads and decodes the state document for an instance.
func (s *FileStore) Load(_ context.Context, instanceID string) (*ExecutionState, error) {
	if err := validInstanceID(instanceID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := os.ReadFile(s.path(instanceID))
	if os.IsNotExist(err) {
		return nil, stateNotFound(instanceID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "read state %s: %s", instanceID, err.Error()).WithCause(err)
	}

	state := &ExecutionState{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "decode state %s: %s", instanceID, err.Error()).WithCause(err)
	}
	return state, nil
}

// Save writes the document atomically: temp file, fsync, rename.
func (s *FileStore) Save(_ context.Context, state *ExecutionState) error {
	if state == nil {
		return schema.NewError(schema.ErrCodePersistence, "state is nil")
	}
	if err := validInstanceID(state.InstanceID); err != nil {
		return err
	}

	state.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "encode state %s: %s", state.InstanceID, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Temp file must live in the same directory as the target so the
	// rename stays within one filesystem and remains atomic.
	tmp, err := os.CreateTemp(s.root, state.InstanceID+".*.tmp")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "create temp state file: %s", err.Error()).WithCause(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodePersistence, "write temp state file: %s", err.Error()).WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodePersistence, "sync temp state file: %s", err.Error()).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodePersistence, "close temp state file: %s", err.Error()).WithCause(err)
	}

	if err := os.Rename(tmpName, s.path(state.InstanceID)); err != nil {
		os.Remove(tmpName)
		return schema.NewErrorf(schema.ErrCodePersistence, "commit state %s: %s", state.InstanceID, err.Error()).WithCause(err)
	}
	return nil
}

// Delete removes the state document. Missing documents are not an error.
func (s *FileStore) Delete(_ context.Context, instanceID string) error {
	if err := validInstanceID(instanceID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(instanceID))
	if err != nil && !os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodePersistence, "delete state %s: %s", instanceID, err.Error()).WithCause(err)
	}
	return nil
}

// List returns the instance ids of all persisted documents.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "list state dir: %s", err.Error()).WithCause(err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// validInstanceID rejects ids that would escape the state directory.
func validInstanceID(id string) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "instance id is empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid instance id %q", id)
	}
	return nil
}

func stateNotFound(instanceID string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "no execution state for instance %q", instanceID)
}
