package task

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownKind is returned when no factory is registered for a kind.
var ErrUnknownKind = errors.New("unknown task kind")

// Factory builds a task of one kind from its parameters.
type Factory func(params Params) (Task, error)

// Registry maps kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Build constructs a new task of kind.
func (r *Registry) Build(kind string, params Params) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	t, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("building %s task: %w", kind, err)
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Register.
func Default() *Registry { return defaultRegistry }

// Register adds a factory to the default registry.
func Register(kind string, f Factory) { defaultRegistry.Register(kind, f) }
