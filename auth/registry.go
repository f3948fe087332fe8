package auth

import (
	"sync"

	"golang.org/x/exp/slices"
)

type entry struct {
	host string
	auth Authorization
}

// Registry maps hosts to Authorization strategies. Hosts are matched exactly.
// A Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return new(Registry)
}

// Register binds a to host. Registering a strategy instance that is already
// registered does nothing.
func (r *Registry) Register(host string, a Authorization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.IndexFunc(r.entries, func(e entry) bool { return e.auth == a }) >= 0 {
		return
	}
	r.entries = append(r.entries, entry{host: host, auth: a})
}

// Resolve returns the first strategy registered for host.
func (r *Registry) Resolve(host string) (Authorization, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.host == host {
			return e.auth, true
		}
	}
	return nil, false
}

// Apply runs the request scoped strategy if req carries one, otherwise the
// strategy registered for the request host. Without either the request is
// left untouched.
func (r *Registry) Apply(c Client, req Request) error {
	if a := req.Authorization(); a != nil {
		return a.Setup(c, req)
	}
	if a, ok := r.Resolve(req.URL().Hostname()); ok {
		return a.Setup(c, req)
	}
	return nil
}

// Hosts returns the registered hosts in registration order.
func (r *Registry) Hosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hosts := make([]string, len(r.entries))
	for i, e := range r.entries {
		hosts[i] = e.host
	}
	return hosts
}

// Clear drops every registration. Strategies keep their cached state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
