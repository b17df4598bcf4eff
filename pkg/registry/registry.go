// Package registry runs integrations implemented as Go functions in the same process.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
)

// Func implements one integration.
type Func func(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error)

// Registry manages the available integrations.
// It implements ports.IntegrationInvoker.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]Func
	fallback ports.IntegrationInvoker
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallback delegates names not registered here, e.g. to the process runner.
func WithFallback(inv ports.IntegrationInvoker) Option {
	return func(r *Registry) {
		r.fallback = inv
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an integration.
// If one with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Names returns the registered integration names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke looks up the integration by name and runs it.
func (r *Registry) Invoke(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error) {
	r.mu.RLock()
	fn, ok := r.funcs[call.Name]
	r.mu.RUnlock()

	if !ok {
		if r.fallback != nil {
			return r.fallback.Invoke(ctx, call)
		}
		return domain.IntegrationResult{}, fmt.Errorf("integration not registered: %s", call.Name)
	}
	if err := ctx.Err(); err != nil {
		return domain.IntegrationResult{}, fmt.Errorf("integration %s: %w", call.Name, err)
	}
	return fn(ctx, call)
}

// Echo answers success with its arguments as output. Handy to try a flow
// before the real collaborator exists.
func Echo(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error) {
	return domain.IntegrationResult{Code: domain.HandleSuccess, Output: call.Args}, nil
}
