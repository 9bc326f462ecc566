package providers

import (
	"sort"
	"sync"

	"github.com/pratik-mahalle/vitalsync/internal/pkg/errors"
)

// Registry maps vendor names to their client and connector. Adding a vendor
// means registering one more pair; callers never switch on vendor names.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]Client
	connectors map[string]Connector
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients:    make(map[string]Client),
		connectors: make(map[string]Connector),
	}
}

// Register adds a vendor. The connector may be nil for data-only clients.
func (r *Registry) Register(client Client, connector Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Vendor()] = client
	if connector != nil {
		r.connectors[client.Vendor()] = connector
	}
}

// Client returns the vendor's data client
func (r *Registry) Client(vendor string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[vendor]
	if !ok {
		return nil, errors.UnsupportedVendor(vendor)
	}
	return c, nil
}

// Connector returns the vendor's OAuth connector
func (r *Registry) Connector(vendor string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[vendor]
	if !ok {
		return nil, errors.UnsupportedVendor(vendor)
	}
	return c, nil
}

// Supports reports whether vendor is registered
func (r *Registry) Supports(vendor string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[vendor]
	return ok
}

// Vendors lists registered vendors in sorted order
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for v := range r.clients {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
