package breaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per (provider, role) pair, created lazily on
// first use so breakers exist only for pairs that have actually been called.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry using cfg for every breaker.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a (provider, role) pair, creating it if needed.
func (r *Registry) Get(provider, role string) *Breaker {
	key := provider + "/" + role
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.cfg)
		r.breakers[key] = b
	}
	return b
}

// Stats returns snapshots for all breakers, sorted by name for stable output.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Reset closes the breaker for a (provider, role) pair if it exists.
func (r *Registry) Reset(provider, role string) bool {
	r.mu.Lock()
	b, ok := r.breakers[provider+"/"+role]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
	return ok
}

// ResetAll closes every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()
	for _, b := range breakers {
		b.Reset()
	}
}
