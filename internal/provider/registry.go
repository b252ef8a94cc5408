package provider

import (
	"context"
	"sort"
	"strings"

	"github.com/akeswens/llm-gateway/internal/config"
	"github.com/akeswens/llm-gateway/internal/domain"
)

// Registry holds the configured providers and the routing table. Immutable
// after construction, so reads need no locking.
type Registry struct {
	providers       map[string]Provider
	rules           []config.RoutingRule
	defaultProvider string
}

// NewRegistry builds a registry over the given providers. Routing rules are
// evaluated in order; models matching none route to the default provider.
func NewRegistry(providers []Provider, routing config.RoutingConfig) *Registry {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	defaultProvider := routing.DefaultProvider
	if defaultProvider == "" {
		defaultProvider = "ollama"
	}

	return &Registry{
		providers:       byName,
		rules:           routing.Rules,
		defaultProvider: defaultProvider,
	}
}

// Route resolves a model name to a provider name. Pure and deterministic:
// the first matching rule wins, regardless of which providers are live.
func (r *Registry) Route(model string) string {
	for _, rule := range r.rules {
		if rule.Provider == "" {
			continue
		}
		if ruleMatches(rule, model) {
			return rule.Provider
		}
	}
	return r.defaultProvider
}

func ruleMatches(rule config.RoutingRule, model string) bool {
	if rule.ModelExact != "" && rule.ModelExact == model {
		return true
	}
	if rule.ModelPrefix != "" && strings.HasPrefix(model, rule.ModelPrefix) {
		return true
	}
	if rule.ModelContains != "" && strings.Contains(model, rule.ModelContains) {
		return true
	}
	return false
}

// Complete dispatches one attempt to the named provider. An unknown name is
// a configuration fault, reported as not-configured and never retried.
func (r *Registry) Complete(ctx context.Context, providerName string, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	p, ok := r.providers[providerName]
	if !ok {
		return nil, domain.ErrNotConfigured(providerName)
	}
	return p.Complete(ctx, req)
}

// Probe checks the named provider's reachability.
func (r *Registry) Probe(ctx context.Context, providerName string) error {
	p, ok := r.providers[providerName]
	if !ok {
		return domain.ErrNotConfigured(providerName)
	}
	return p.Probe(ctx)
}

// Models lists the models the named provider advertises.
func (r *Registry) Models(ctx context.Context, providerName string) ([]domain.ModelInfo, error) {
	p, ok := r.providers[providerName]
	if !ok {
		return nil, domain.ErrNotConfigured(providerName)
	}
	return p.Models(ctx)
}

// Has reports whether a provider is configured.
func (r *Registry) Has(providerName string) bool {
	_, ok := r.providers[providerName]
	return ok
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
