package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vjranagit/empe/pkg/types"
)

// ErrUnknownModel is returned when a model name has no registered factory
var ErrUnknownModel = errors.New("unknown model")

// Factory builds a fresh, unconfigured model
type Factory func() types.Model

// Registry maps model identifiers to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in models
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(PowerLawName, func() types.Model { return NewPowerLaw() })
	return r
}

// Register adds or replaces a factory
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New instantiates the model registered as name
func (r *Registry) New(name string) (types.Model, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return f(), nil
}

// Names lists registered models in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
