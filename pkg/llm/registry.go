package llm

import (
	"sort"
	"sync"
)

// Registry maps provider names to adapters. It is built once at startup and
// read-only thereafter; concurrent lookups are safe.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its provider name. Registering the same
// name twice is a configuration error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if name == "" {
		return Errorf(KindInvalidConfig, "adapter has empty provider name")
	}
	if _, exists := r.adapters[name]; exists {
		return Errorf(KindInvalidConfig, "provider %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Lookup returns the adapter for a provider name, or a ProviderNotFound
// record if none is registered.
func (r *Registry) Lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, Errorf(KindProviderNotFound, "no adapter registered for provider %q", name)
	}
	return a, nil
}

// Capabilities reports what the named provider's backend supports, or a
// ProviderNotFound record if none is registered.
func (r *Registry) Capabilities(name string) (Capabilities, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return Capabilities{}, err
	}
	return a.Capabilities(), nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
