// Package registry holds the in-process catalog of declared prompt modules.
// A registry is rebuilt wholesale from the manifest on every reload and
// swapped into the sync channel atomically; it is never partially mutated.
package registry

import (
	"sort"
	"sync"

	"github.com/weavel-fastllm/fastllm/errors"
)

// Registry is a name-keyed catalog of module declarations plus the sample
// inputs declared alongside them.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	samples map[string]map[string]any
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		modules: make(map[string]*Module),
		samples: make(map[string]map[string]any),
	}
}

// Register adds a module declaration. Registering a name that is already
// present is a no-op; the first declaration wins.
func (r *Registry) Register(m *Module) error {
	if m == nil || m.Name == "" {
		return errors.Wrap(errors.ErrInvalidInput, "module declaration needs a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.Name]; exists {
		return nil
	}
	r.modules[m.Name] = m
	return nil
}

// Get retrieves a module declaration by name.
func (r *Registry) Get(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names returns all registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// RegisterSample declares a named input mapping. Re-declaring a name
// replaces its content.
func (r *Registry) RegisterSample(name string, content map[string]any) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidInput, "sample declaration needs a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = content
	return nil
}

// Samples returns a copy of the declared sample inputs.
func (r *Registry) Samples() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]any, len(r.samples))
	for name, content := range r.samples {
		out[name] = content
	}
	return out
}
