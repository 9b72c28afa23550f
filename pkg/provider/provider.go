// Package provider defines the adapter contract every LLM backend
// implements, the error type adapters report failures with, and the registry
// the orchestrator resolves providers from.
package provider

import (
	"context"
	"fmt"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

// Provider is the closed adapter contract. Generate performs one completion
// and normalizes the result; TestConnection issues the cheapest
// authenticated call the backend offers.
//
// Implementations must honor ctx cancellation and report every failure mode
// (network error, timeout, non-2xx status, malformed body) as *Error so
// callers can classify retryability without provider-specific knowledge.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.NormalizedResponse, error)
	TestConnection(ctx context.Context) error
}

// Registry holds the configured providers in registration order. It is built
// once during startup and read-only afterwards; Register is not safe for
// concurrent use.
type Registry struct {
	order  []string
	byName map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds p under its name. Duplicate names are a configuration error.
func (r *Registry) Register(p Provider) error {
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.byName[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	return len(r.order)
}
