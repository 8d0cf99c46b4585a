package bank

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// REGISTRY - Per-principal tag provisioning
// =============================================================================

// Registry maps principals (players, operators, services) to the tag-sets
// that identify their accounts. Tags are registered once per principal;
// the external collaborator decides what goes in them.
type Registry struct {
	service *Service

	mu   sync.RWMutex
	tags map[uuid.UUID]TagSet
}

func NewRegistry(service *Service) *Registry {
	return &Registry{
		service: service,
		tags:    make(map[uuid.UUID]TagSet),
	}
}

// SetTags registers a principal's tag-set. Re-registering an existing
// principal is rejected; tags are provisioned once per session.
func (r *Registry) SetTags(principal uuid.UUID, tags TagSet) error {
	if err := r.service.schema.Validate(tags); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tags[principal]; exists {
		return ErrPrincipalExists
	}
	r.tags[principal] = tags
	return nil
}

// Tags returns the registered tag-set, or nil when the principal is
// unknown.
func (r *Registry) Tags(principal uuid.UUID) TagSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tags[principal]
}

// Forget drops a principal's registration (quit/disconnect).
func (r *Registry) Forget(principal uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tags, principal)
}

// Balances returns one balance per registered tag, each computed as a
// single-tag lookup. An unknown principal yields an empty map.
func (r *Registry) Balances(ctx context.Context, principal uuid.UUID) (map[string]int64, error) {
	r.mu.RLock()
	tags := r.tags[principal]
	r.mu.RUnlock()

	balances := make(map[string]int64, len(tags))
	for name, value := range tags {
		balance, err := r.service.GetByTag(ctx, name, value)
		if err != nil {
			return nil, err
		}
		balances[name] = balance
	}
	return balances, nil
}
