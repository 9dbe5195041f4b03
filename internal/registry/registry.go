// Package registry holds the named workflow definitions an engine can
// instantiate. Definitions enter through schema validation only; a
// definition that made it into the registry is structurally sound.
package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/stepline/stepline/internal/validation"
	"github.com/stepline/stepline/pkg/schema"
)

// Registry is a thread-safe named definition source. It satisfies
// engine.DefinitionSource.
type Registry struct {
	validator *validation.DefinitionValidator

	mu   sync.RWMutex
	defs map[string]*schema.WorkflowDefinition
}

// New creates an empty Registry.
func New() (*Registry, error) {
	v, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}
	return &Registry{
		validator: v,
		defs:      make(map[string]*schema.WorkflowDefinition),
	}, nil
}

// Register validates and adds a definition. Re-registering a name
// replaces the previous definition; instances created from the old one
// keep running against their persisted state.
func (r *Registry) Register(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "definition is nil")
	}
	if err := schema.ValidateDefinition(def).ToError(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// RegisterRaw validates a raw JSON document against the definition
// schema and registers the parsed result.
func (r *Registry) RegisterRaw(raw []byte) (*schema.WorkflowDefinition, error) {
	def, err := r.validator.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := r.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadDir loads every *.json file under dir as a definition. The walk
// stops on the first invalid file so a broken definition directory is
// noticed at startup, not mid-run.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodePersistence, "read definitions dir %q: %v", dir, err).WithCause(err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return loaded, schema.NewErrorf(schema.ErrCodePersistence, "read definition %q: %v", path, err).WithCause(err)
		}
		if _, err := r.RegisterRaw(raw); err != nil {
			return loaded, schema.NewErrorf(schema.ErrCodeDefinition, "definition %q: %v", path, err).WithCause(err)
		}
		loaded++
	}
	return loaded, nil
}

// Definition returns the named definition. Satisfies engine.DefinitionSource.
func (r *Registry) Definition(_ context.Context, name string) (*schema.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition %q not registered", name)
	}
	return def, nil
}

// Has reports whether a definition is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns the registered definition names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
