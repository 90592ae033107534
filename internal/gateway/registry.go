package gateway

import (
	"errors"
	"fmt"
	"sync"

	"toolgate/internal/tools"
)

var ErrRegistrySealed = errors.New("tool registry is sealed")

// Registry maps tool names to executors. It is filled at boot and sealed
// before the gateway starts serving.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]tools.Tool
	order  []string
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]tools.Tool{}}
}

// Register adds t. Duplicate names and registration after Seal fail.
func (r *Registry) Register(t tools.Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = t
	r.order = append(r.order, def.Name)
	return nil
}

func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns tool definitions in registration order.
func (r *Registry) Definitions() []tools.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tools.Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
