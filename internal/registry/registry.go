// Package registry owns the process-wide, admin-mutable set of backend
// server descriptors per pool, per spec §9's design note: a single owned
// registry behind a reader/writer discipline, never handing out internal
// slices.
package registry

import (
	"fmt"
	"sync"

	"github.com/archway-network/lambo/internal/model"
)

// Registry is the mutable, concurrency-safe store of ServerDescriptors.
type Registry struct {
	mu      sync.RWMutex
	byPool  map[model.Pool]map[string]model.ServerDescriptor
	order   map[model.Pool][]string // insertion order, for stable iteration
}

// New builds a Registry seeded from the given per-pool server lists (the
// deployment config loaded at startup).
func New(seed map[model.Pool][]model.ServerDescriptor) *Registry {
	r := &Registry{
		byPool: map[model.Pool]map[string]model.ServerDescriptor{
			model.PoolIncoming: {},
			model.PoolOutgoing: {},
		},
		order: map[model.Pool][]string{},
	}
	for pool, servers := range seed {
		for _, s := range servers {
			s.Pool = pool
			r.byPool[pool][s.ID] = s
			r.order[pool] = append(r.order[pool], s.ID)
		}
	}
	return r
}

// Servers returns a defensive copy of every descriptor in pool, in stable order.
func (r *Registry) Servers(pool model.Pool) []model.ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.order[pool]
	out := make([]model.ServerDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byPool[pool][id])
	}
	return out
}

// All returns a defensive copy of every descriptor across both pools.
func (r *Registry) All() []model.ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.ServerDescriptor
	for _, pool := range model.Pools {
		for _, id := range r.order[pool] {
			out = append(out, r.byPool[pool][id])
		}
	}
	return out
}

// Get returns a copy of the descriptor for id, and whether it exists in
// either pool (spec §4.2 step 1's "unknown across both pools" check).
func (r *Registry) Get(id string) (model.ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pool := range model.Pools {
		if s, ok := r.byPool[pool][id]; ok {
			return s, true
		}
	}
	return model.ServerDescriptor{}, false
}

// Add inserts or replaces a descriptor in its declared pool.
func (r *Registry) Add(s model.ServerDescriptor) error {
	if s.ID == "" {
		return fmt.Errorf("server id must not be empty")
	}
	if s.Host == "" {
		return fmt.Errorf("server host must not be empty")
	}
	if !s.Pool.Valid() {
		return fmt.Errorf("server pool must be %q or %q", model.PoolIncoming, model.PoolOutgoing)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPool[s.Pool][s.ID]; !exists {
		r.order[s.Pool] = append(r.order[s.Pool], s.ID)
	}
	r.byPool[s.Pool][s.ID] = s
	return nil
}

// Remove deletes a server from a pool. No-op if absent.
func (r *Registry) Remove(pool model.Pool, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPool[pool], id)
	ids := r.order[pool]
	for i, existing := range ids {
		if existing == id {
			r.order[pool] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Toggle flips a server's static Enabled flag, returning the new value.
func (r *Registry) Toggle(pool model.Pool, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPool[pool][id]
	if !ok {
		return false, fmt.Errorf("server %q not found in pool %q", id, pool)
	}
	s.Enabled = !s.Enabled
	r.byPool[pool][id] = s
	return s.Enabled, nil
}
