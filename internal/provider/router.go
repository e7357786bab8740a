package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages LLM providers and routes requests by organization.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // orgID -> providerID
	fallbacks map[string][]string // orgID -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider ID.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind routes an organization's requests to a specific provider.
func (r *Router) Bind(orgID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[orgID] = providerID
}

// SetFallbacks configures fallback providers for an organization.
func (r *Router) SetFallbacks(orgID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[orgID] = providerIDs
}

// Chat sends a request through the org's provider, falling back down the
// configured chain when the primary fails.
func (r *Router) Chat(ctx context.Context, orgID string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.lookup(orgID)
	chain := r.fallbacks[orgID]
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for org %s", orgID)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("org", orgID), zap.Error(err))

	for _, fbID := range chain {
		r.mu.RLock()
		fb, ok := r.providers[fbID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed",
			zap.String("provider", fbID), zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed for org %s: %w", orgID, err)
}

// Get returns a provider by ID.
func (r *Router) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns all registered providers.
func (r *Router) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

func (r *Router) lookup(orgID string) Provider {
	if pid, ok := r.bindings[orgID]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}
