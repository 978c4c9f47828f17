package provider

import "sync"

// Registry holds the process-wide current provider: exactly one active
// provider reachable under a well-known name, swappable at runtime,
// observable on change.
type Registry struct {
	mu      sync.Mutex
	current Provider
	subs    map[int]func(Provider)
	next    int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[int]func(Provider))}
}

// Get returns the current provider, or nil when none is set.
func (r *Registry) Get() Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Set swaps the current provider and notifies change subscribers.
func (r *Registry) Set(p Provider) {
	r.mu.Lock()
	r.current = p
	subs := make([]func(Provider), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}

// OnChange registers fn to run on every Set. The returned func cancels the
// registration.
func (r *Registry) OnChange(fn func(Provider)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

var global = NewRegistry()

// Get returns the process-wide current provider.
func Get() Provider { return global.Get() }

// Set swaps the process-wide current provider.
func Set(p Provider) { global.Set(p) }

// OnChange observes swaps of the process-wide provider.
func OnChange(fn func(Provider)) func() { return global.OnChange(fn) }
