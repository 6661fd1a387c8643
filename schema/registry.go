package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all registered schemas in the application. It is populated
// once at startup and read-only afterwards.
type Registry struct {
	schemas map[string]*Schema
	mu      sync.RWMutex
}

// NewRegistry creates a new schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
	}
}

// Register registers a schema. Registering the same name twice is an error.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.name]; exists {
		return fmt.Errorf("schema %s is already registered", s.name)
	}
	r.schemas[s.name] = s
	return nil
}

// MustRegister registers a schema and panics on error.
func (r *Registry) MustRegister(s *Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get retrieves a schema by name.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	return s, ok
}

// MustGet retrieves a schema by name and panics if it is not registered.
func (r *Registry) MustGet(name string) *Schema {
	s, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("schema %s is not registered", name))
	}
	return s
}

// Exists reports whether a schema with the given name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.schemas[name]
	return ok
}

// List returns the names of all registered schemas, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered schemas.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// ValidateAll performs cross-schema validation: every association target must
// be registered, and declared foreign keys must exist on the side that owns
// them. Call after all schemas are registered, before serving requests.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.schemas {
		for _, a := range s.assocs {
			target, ok := r.schemas[a.Target]
			if !ok {
				return fmt.Errorf("schema %s: association %s targets unregistered schema %s", s.name, a.Name, a.Target)
			}
			switch a.Kind {
			case BelongsTo:
				// Owner-side key existence is checked at construction; verify
				// the target has a primary key to join against.
				if target.pk == nil {
					return fmt.Errorf("schema %s: belongs_to %s target %s has no primary key", s.name, a.Name, a.Target)
				}
			case HasMany:
				if !target.HasField(a.ForeignKey) {
					return fmt.Errorf("schema %s: has_many %s references unknown field %s on %s", s.name, a.Name, a.ForeignKey, a.Target)
				}
			}
		}
	}
	return nil
}
