package memory

import (
	"sort"
	"sync"
)

// Registry hands out one Store per agent ID, created on first use.
// The map lock is held only to find or create a store.
type Registry struct {
	mu       sync.Mutex
	stores   map[string]*Store
	capacity int
	opts     []Option
}

// NewRegistry creates a registry whose stores are bounded at capacity.
func NewRegistry(capacity int, opts ...Option) *Registry {
	return &Registry{
		stores:   make(map[string]*Store),
		capacity: capacity,
		opts:     opts,
	}
}

// Store returns the store for agentID, creating it if needed.
func (r *Registry) Store(agentID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[agentID]
	if !ok {
		s = NewStore(agentID, r.capacity, r.opts...)
		r.stores[agentID] = s
	}
	return s
}

// Agents lists the agents that have a store, sorted.
func (r *Registry) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns per-agent stats, sorted by agent.
func (r *Registry) Stats() []Stats {
	ids := r.Agents()
	out := make([]Stats, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Store(id).Stats())
	}
	return out
}
