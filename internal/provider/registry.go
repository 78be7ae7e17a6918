package provider

import "fmt"

// Registry holds all configured provider gateways and allows lookup by
// provider name. It performs no auth logic itself.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry registers the given gateways by name.
// Provider names must be unique.
func NewRegistry(list ...Gateway) *Registry {
	m := make(map[string]Gateway)
	for _, g := range list {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

// Get returns the gateway by name or an error if not registered.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider: %s", name)
	}
	return g, nil
}
