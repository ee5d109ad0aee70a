package resilience

import (
	"sort"
	"sync"
)

// Registry maps dependency names to breakers sharing one configuration.
type Registry struct {
	cfg  BreakerConfig
	opts []BreakerOption

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg BreakerConfig, opts ...BreakerOption) *Registry {
	return &Registry{cfg: cfg, opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg, r.opts...)
		r.breakers[name] = b
	}
	return b
}

// Names lists the known dependencies in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// States returns the current state of every breaker.
func (r *Registry) States() map[string]State {
	out := make(map[string]State)
	for _, name := range r.Names() {
		out[name] = r.Get(name).State()
	}
	return out
}

// Stats returns every breaker's stats ordered by name.
func (r *Registry) Stats() []BreakerStats {
	names := r.Names()
	out := make([]BreakerStats, 0, len(names))
	for _, name := range names {
		out = append(out, r.Get(name).Stats())
	}
	return out
}

// Reset closes every breaker.
func (r *Registry) Reset() {
	for _, name := range r.Names() {
		r.Get(name).Reset()
	}
}
