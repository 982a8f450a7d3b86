package target

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named target factories. Each run resolves its target by name
// and constructs a fresh client, so state never leaks between runs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty target registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory to the registry under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve constructs a client for the named target using the given settings.
// Returns an error if the target is not registered.
func (r *Registry) Resolve(name string, s Settings) (Client, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("target %q is not registered", name)
	}
	return f(s)
}

// List returns the registered target names, sorted for a stable API response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
