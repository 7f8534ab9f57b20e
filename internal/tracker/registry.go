// Package tracker owns the set of tracked wallets per chain.
package tracker

import "sync"

// Snapshot maps a normalized address to its agent id. It is never mutated
// after creation, so one poll tick sees a consistent view.
type Snapshot map[string]string

func (s Snapshot) Agent(address string) (string, bool) {
	agent, ok := s[address]
	return agent, ok
}

// Registry is the in-memory tracked set, read by pollers and written by
// configuration events.
type Registry struct {
	mu      sync.RWMutex
	byChain map[string]map[string]string
}

func NewRegistry() *Registry {
	return &Registry{byChain: make(map[string]map[string]string)}
}

func (r *Registry) Add(chain, address, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byChain[chain]
	if !ok {
		m = make(map[string]string)
		r.byChain[chain] = m
	}
	m[address] = agentID
}

func (r *Registry) Remove(chain, address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byChain[chain]
	if !ok {
		return false
	}
	if _, ok := m[address]; !ok {
		return false
	}
	delete(m, address)
	return true
}

// Snapshot copies the tracked set of one chain.
func (r *Registry) Snapshot(chain string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byChain[chain]
	out := make(Snapshot, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *Registry) Len(chain string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChain[chain])
}
