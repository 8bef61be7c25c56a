// Package discovery provides service discovery for resolved dependencies:
// an in-process registry plus an external lookup client.
package discovery

import (
	"context"
	"sync"

	"github.com/shiftsmith/shiftsmith/models"
)

// Client looks up and registers services in an external discovery system.
type Client interface {
	Lookup(ctx context.Context, name string) (models.ServiceEndpoint, bool, error)
	Register(ctx context.Context, name string, endpoint models.ServiceEndpoint) error
}

// Registry is the in-process service registry. It is an injected store
// (constructed per daemon, or per test case) rather than a package-level
// singleton. Last write wins; there is no versioning.
//
// Reads vastly outnumber writes, so access is guarded by an RWMutex.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]models.ServiceEndpoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]models.ServiceEndpoint)}
}

// Lookup returns the endpoint registered under name, if any.
func (r *Registry) Lookup(name string) (models.ServiceEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Register stores an endpoint under its name, replacing any earlier entry.
func (r *Registry) Register(endpoint models.ServiceEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint.Name] = endpoint
}

// List returns a snapshot of every registered endpoint.
func (r *Registry) List() []models.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ServiceEndpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	return out
}
