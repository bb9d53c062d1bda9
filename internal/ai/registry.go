package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type RelayFactory func(ctx context.Context) (Relay, error)

// Registry resolves the AI_PROVIDER setting to a relay.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]RelayFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]RelayFactory)}
}

func (r *Registry) Register(name string, f RelayFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string) (Relay, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
