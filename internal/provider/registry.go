package provider

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Registry manages available connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
	}
}

// Register adds a connector to the registry.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
}

// Get returns a connector by name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, eris.Errorf("provider: unknown connector %q", name)
	}
	return c, nil
}

// List returns all registered connector names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supporting returns the connectors that implement an operation, in sorted
// name order so fan-out is deterministic.
func (r *Registry) Supporting(op Op) []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name, c := range r.connectors {
		if c.Supports(op) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	result := make([]Connector, 0, len(names))
	for _, name := range names {
		result = append(result, r.connectors[name])
	}
	return result
}
