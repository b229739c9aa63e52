package breaker

import "sync"

// Registry creates breakers by dependency name on demand. Breakers are never
// destroyed, only reset.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewRegistry creates a registry whose breakers use the given defaults.
func NewRegistry(config Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// GetOrCreate returns the breaker for name, creating it on first reference.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, r.config, nil)
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker for name, or nil if it was never referenced.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// List returns stats projections for every breaker.
func (r *Registry) List() []map[string]any {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]map[string]any, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.StatsMap())
	}
	return out
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	for _, cb := range breakers {
		cb.Reset()
	}
}
