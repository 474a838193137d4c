package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/finsight/internal/metrics"
	"go.uber.org/zap"
)

// ErrNoProvider is returned when nothing is registered for a purpose.
var ErrNoProvider = errors.New("no provider available")

// Router holds the registered providers and picks one per purpose, falling
// back through a configured chain when the primary fails.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // purpose -> providerID
	models    map[string]string   // purpose -> model override
	fallbacks map[string][]string // purpose -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		models:    make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind routes a purpose to a provider, optionally pinning a model.
func (r *Router) Bind(purpose, providerID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[purpose] = providerID
	if model != "" {
		r.models[purpose] = model
	}
}

// SetFallbacks configures the providers tried after the primary fails.
func (r *Router) SetFallbacks(purpose string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[purpose] = providerIDs
}

// Available reports whether any provider can serve requests.
func (r *Router) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// Route sends a chat request through the provider bound to purpose.
func (r *Router) Route(ctx context.Context, purpose string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(purpose)
	chain := append([]string(nil), r.fallbacks[purpose]...)
	model := r.models[purpose]
	r.mu.RUnlock()

	if primary == nil {
		metrics.LLMCalls.WithLabelValues(purpose, "unavailable").Inc()
		return nil, fmt.Errorf("%w for %s", ErrNoProvider, purpose)
	}
	if req.Model == "" && model != "" {
		cp := *req
		cp.Model = model
		req = &cp
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		metrics.LLMCalls.WithLabelValues(purpose, "ok").Inc()
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("purpose", purpose),
		zap.String("provider", primary.ID()),
		zap.Error(err))

	for _, fbID := range chain {
		r.mu.RLock()
		fb, ok := r.providers[fbID]
		r.mu.RUnlock()
		if !ok || fb == primary {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		// the pinned model belongs to the primary
		fbReq := *req
		if fbReq.Model == model {
			fbReq.Model = ""
		}
		resp, err = fb.Chat(ctx, &fbReq)
		if err == nil {
			metrics.LLMCalls.WithLabelValues(purpose, "fallback").Inc()
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	metrics.LLMCalls.WithLabelValues(purpose, "error").Inc()
	return nil, fmt.Errorf("all providers failed for %s: %w", purpose, err)
}

func (r *Router) getProvider(purpose string) Provider {
	if pid, ok := r.bindings[purpose]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers ordered by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
