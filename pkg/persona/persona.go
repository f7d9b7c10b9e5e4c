// Package persona holds the catalog of expert personas and dispatches each
// persona id to the backend that answers for it.
package persona

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
)

var (
	// ErrUnknownPersona is returned for ids that are not in the catalog.
	ErrUnknownPersona = errors.New("expert not found")
	// ErrUnsupportedPersona is returned for personas that exist but have no
	// backend wired to them.
	ErrUnsupportedPersona = errors.New("expert has no backend")
)

// Registry maps persona ids to their metadata and, for supported personas,
// to a model.Bridge. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	personas map[string]domain.Persona
	bridges  map[string]model.Bridge
}

// NewRegistry creates a registry containing personas, in order.
func NewRegistry(personas ...domain.Persona) *Registry {
	r := &Registry{
		personas: make(map[string]domain.Persona),
		bridges:  make(map[string]model.Bridge),
	}
	for _, p := range personas {
		r.Put(p)
	}
	return r
}

// Put adds or replaces a persona. Replacing keeps its catalog position.
func (r *Registry) Put(p domain.Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.personas[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.personas[p.ID] = p
}

// Bind routes generation for persona id to b.
func (r *Registry) Bind(id string, b model.Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.personas[id]; !ok {
		return fmt.Errorf("binding %q: %w", id, ErrUnknownPersona)
	}
	r.bridges[id] = b
	return nil
}

// Get returns a persona by id.
func (r *Registry) Get(id string) (domain.Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	if !ok {
		return domain.Persona{}, fmt.Errorf("%q: %w", id, ErrUnknownPersona)
	}
	return p, nil
}

// List returns all personas in catalog order.
func (r *Registry) List() []domain.Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Persona, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.personas[id])
	}
	return out
}

// IDs returns the persona ids in catalog order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Bridge returns the backend for persona id. Unknown ids return
// ErrUnknownPersona; known ids with no backend return ErrUnsupportedPersona.
func (r *Registry) Bridge(id string) (model.Bridge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.personas[id]; !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownPersona)
	}
	b, ok := r.bridges[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnsupportedPersona)
	}
	return b, nil
}

// Supported reports whether persona id has a backend.
func (r *Registry) Supported(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bridges[id]
	return ok
}
