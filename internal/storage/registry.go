package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/seantiz/gantry/internal/model"
)

// protocolPreference orders protocols when a resource offers more than one.
// Protocols not listed here are tried afterwards in the resource's order.
var protocolPreference = []string{model.ProtocolSCP, model.ProtocolSFTP}

// Registry maps protocol names to adaptor factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given protocol name.
func (r *Registry) Register(protocol string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(protocol)] = f
}

// Choose picks the protocol to use from the ones a resource offers and
// returns its factory.
func (r *Registry) Choose(offered []string) (string, Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	normalized := make([]string, len(offered))
	for i, p := range offered {
		normalized[i] = strings.ToLower(p)
	}

	for _, want := range protocolPreference {
		for _, p := range normalized {
			if p != want {
				continue
			}
			if f, ok := r.factories[p]; ok {
				return p, f, nil
			}
		}
	}
	for _, p := range normalized {
		if f, ok := r.factories[p]; ok {
			return p, f, nil
		}
	}
	return "", nil, fmt.Errorf("%w: resource offers %v", ErrUnsupportedProtocol, offered)
}

// List returns the registered protocol names sorted for stable output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
