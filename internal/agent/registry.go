// Package agent holds the compute handlers that answer individual tasks.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/finsight/internal/task"
)

// Context is the read-only view of upstream results a handler receives. It
// is keyed by dependency task id and by dependency task type.
type Context map[string]map[string]any

// ByType returns the first entry stored under one of the given task types.
func (c Context) ByType(types ...task.Type) (map[string]any, bool) {
	for _, t := range types {
		if v, ok := c[string(t)]; ok {
			return v, true
		}
	}
	return nil, false
}

// Handler computes the result of one task.
type Handler func(ctx context.Context, params task.Params, deps Context) (map[string]any, error)

// Registry maps task types to handlers.
type Registry struct {
	handlers map[task.Type]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.Type]Handler)}
}

// Register sets the handler for a task type, replacing any previous one.
func (r *Registry) Register(t task.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Lookup returns the handler for t.
func (r *Registry) Lookup(t task.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Execute runs the handler for t.
func (r *Registry) Execute(ctx context.Context, t task.Type, params task.Params, deps Context) (map[string]any, error) {
	h, ok := r.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("no handler for %s: %w", t, task.ErrUnknownTaskType)
	}
	return h(ctx, params, deps)
}

// Types returns the registered task types sorted by name.
func (r *Registry) Types() []task.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
