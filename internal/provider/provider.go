// Package provider holds the backend adapters and the registry that routes
// models to them. Adapters translate canonical requests to each backend's
// wire format, attach static pricing, and expose a cheap reachability probe.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/akeswens/llm-gateway/internal/config"
	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/tokens"
)

// Provider is one backend capable of serving completions.
type Provider interface {
	// Name returns the registry key for this backend.
	Name() string

	// Complete performs exactly one completion attempt. No retry happens
	// here; failures surface as canonical errors.
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)

	// Probe checks reachability without serving real traffic. Used only by
	// the health probe loop.
	Probe(ctx context.Context) error

	// Models lists the models this backend advertises.
	Models(ctx context.Context) ([]domain.ModelInfo, error)
}

// ErrNoCredentials marks a cloud provider entry whose API key is absent.
// Callers typically skip the entry rather than fail startup.
var ErrNoCredentials = errors.New("no API key configured")

// New builds one provider adapter from its config entry.
func New(cfg config.ProviderConfig, estimator *tokens.Estimator) (Provider, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.ClientType()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout()}

	switch cfg.ClientType() {
	case "ollama":
		return NewOllamaProvider(name, cfg.BaseURL, httpClient, estimator), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %q: %w", name, ErrNoCredentials)
		}
		return NewOpenAIProvider(name, cfg.APIKey, cfg.BaseURL, httpClient), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %q: %w", name, ErrNoCredentials)
		}
		return NewAnthropicProvider(name, cfg.APIKey, cfg.BaseURL, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.ClientType())
	}
}
