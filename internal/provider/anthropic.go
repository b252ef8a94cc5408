package provider

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/akeswens/llm-gateway/internal/api/anthropic"
	"github.com/akeswens/llm-gateway/internal/domain"
)

// anthropicPricing is USD per 1M tokens, input/output, keyed by dated model
// ids. Unknown models bill at haiku rates.
var anthropicPricing = map[string][2]float64{
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-sonnet-20240229":   {3.00, 15.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
}

// anthropicAliases lets callers use stable short names while the gateway
// pins the dated snapshot they resolve to.
var anthropicAliases = map[string]string{
	"claude-sonnet": "claude-3-5-sonnet-20241022",
	"claude-haiku":  "claude-3-5-haiku-20241022",
	"claude-opus":   "claude-3-opus-20240229",
}

const (
	anthropicProbeModel = "claude-3-5-haiku-20241022"
	// The Messages API requires max_tokens; default when the caller omits it.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider serves completions through the Anthropic Messages API.
type AnthropicProvider struct {
	name   string
	client *anthropic.Client
}

// NewAnthropicProvider builds the adapter. baseURL may be empty for the
// public endpoint.
func NewAnthropicProvider(name, apiKey, baseURL string, httpClient *http.Client) *AnthropicProvider {
	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		name:   name,
		client: anthropic.NewClient(apiKey, opts...),
	}
}

// Name returns the registry key for this backend.
func (p *AnthropicProvider) Name() string { return p.name }

// Complete performs one message attempt. System turns move to the request's
// system field; the rest become the messages array.
func (p *AnthropicProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	model := ResolveAnthropicAlias(req.Model)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	wireReq := &anthropic.MessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		wireReq.Temperature = &temp
	}

	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		wireReq.Messages = append(wireReq.Messages, anthropic.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	wireReq.System = strings.Join(systemParts, "\n\n")

	start := time.Now()
	resp, err := p.client.CreateMessage(ctx, wireReq)
	if err != nil {
		return nil, p.tagged(err)
	}
	latency := time.Since(start)

	promptTokens := resp.Usage.InputTokens
	completionTokens := resp.Usage.OutputTokens

	return &domain.CompletionResponse{
		Content:          resp.Text(),
		Model:            resp.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          anthropicCost(resp.Model, promptTokens, completionTokens),
		LatencyMS:        latency.Milliseconds(),
	}, nil
}

// Probe sends a one-token message against the cheapest model. Anthropic has
// no unauthenticated listing endpoint, so a minimal real call is the probe.
func (p *AnthropicProvider) Probe(ctx context.Context) error {
	_, err := p.client.CreateMessage(ctx, &anthropic.MessageRequest{
		Model:     anthropicProbeModel,
		MaxTokens: 1,
		Messages:  []anthropic.Message{{Role: "user", Content: "ping"}},
	})
	return p.tagged(err)
}

// Models lists the dated snapshots the gateway prices plus their aliases.
func (p *AnthropicProvider) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	ids := make([]string, 0, len(anthropicPricing)+len(anthropicAliases))
	for id := range anthropicPricing {
		ids = append(ids, id)
	}
	for alias := range anthropicAliases {
		ids = append(ids, alias)
	}
	sort.Strings(ids)

	models := make([]domain.ModelInfo, len(ids))
	for i, id := range ids {
		models[i] = domain.ModelInfo{ID: id, Provider: p.name}
	}
	return models, nil
}

func (p *AnthropicProvider) tagged(err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Provider == "" {
		apiErr.Provider = p.name
	}
	return err
}

// ResolveAnthropicAlias maps short model names to their dated snapshots.
// Unknown names pass through unchanged.
func ResolveAnthropicAlias(model string) string {
	if resolved, ok := anthropicAliases[model]; ok {
		return resolved
	}
	return model
}

func anthropicCost(model string, promptTokens, completionTokens int) float64 {
	rates, ok := anthropicPricing[ResolveAnthropicAlias(model)]
	if !ok {
		rates = anthropicPricing["claude-3-haiku-20240307"]
	}
	return float64(promptTokens)*rates[0]/1e6 + float64(completionTokens)*rates[1]/1e6
}
