package payment

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps a gateway name, as used in callback URLs, to its implementation.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(gw Gateway) error {
	if gw == nil {
		return fmt.Errorf("payment: gateway is nil")
	}
	name := normalizeName(gw.Name())
	if name == "" {
		return fmt.Errorf("payment: gateway name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gateways[name]; exists {
		return fmt.Errorf("payment: gateway already registered: %s", name)
	}
	r.gateways[name] = gw
	return nil
}

func (r *Registry) Get(name string) (Gateway, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, ErrGatewayNotFound
	}

	r.mu.RLock()
	gw, ok := r.gateways[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, name)
	}
	return gw, nil
}

// Names lists registered gateways in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
