package slot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jittakal/kafexchange/internal/errors"
	"github.com/jittakal/kafexchange/pkg/slot"
)

// Names of the built-in slot implementations.
const (
	ImplUnlimited = "unlimited"
	ImplAccounted = "accounted"
)

// Registry maps configuration keys to slot constructors. Keys are resolved
// once when the fragment is set up.
type Registry struct {
	constructors map[string]slot.Constructor
	mu           sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]slot.Constructor)}
}

// DefaultRegistry returns a registry holding the built-in implementations.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.constructors[ImplUnlimited] = NewUnlimited
	r.constructors[ImplAccounted] = NewAccounted
	return r
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, constructor slot.Constructor) error {
	if name == "" {
		return fmt.Errorf("slot implementation name is required")
	}
	if constructor == nil {
		return fmt.Errorf("slot implementation %q: constructor is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("slot implementation %q already registered", name)
	}
	r.constructors[name] = constructor
	return nil
}

// Resolve returns the constructor registered under name.
func (r *Registry) Resolve(name string) (slot.Constructor, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &errors.InstantiationError{
			Impl: name,
			Err:  fmt.Errorf("no implementation registered (available: %v)", r.Names()),
		}
	}
	return constructor, nil
}

// Names returns the registered keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
