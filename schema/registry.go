package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps fact type names to their descriptors. Descriptors are
// registered explicitly at startup; nothing is discovered at runtime.
type Registry struct {
	types map[string]*FactType
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*FactType),
	}
}

// Register validates and adds a fact type. Registering the same name twice
// is an error.
func (r *Registry) Register(ft *FactType) error {
	if err := ft.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[ft.Name]; exists {
		return fmt.Errorf("fact type %s already registered", ft.Name)
	}
	r.types[ft.Name] = ft
	return nil
}

// MustRegister is Register for package-level declarations; it panics on error.
func (r *Registry) MustRegister(ft *FactType) {
	if err := r.Register(ft); err != nil {
		panic(err)
	}
}

// Lookup retrieves a fact type by name.
func (r *Registry) Lookup(name string) (*FactType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ft, exists := r.types[name]
	if !exists {
		return nil, fmt.Errorf("fact type %s not found", name)
	}
	return ft, nil
}

// List returns all registered fact types sorted by name.
func (r *Registry) List() []*FactType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*FactType, 0, len(r.types))
	for _, ft := range r.types {
		list = append(list, ft)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
