package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/akeswens/llm-gateway/internal/api/ollama"
	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/tokens"
)

// OllamaProvider serves completions from a local Ollama runtime. Local
// inference costs nothing, so CostUSD is always zero.
type OllamaProvider struct {
	name      string
	client    *ollama.Client
	estimator *tokens.Estimator
}

// NewOllamaProvider builds the adapter. baseURL may be empty for the default
// localhost endpoint.
func NewOllamaProvider(name, baseURL string, httpClient *http.Client, estimator *tokens.Estimator) *OllamaProvider {
	opts := []ollama.ClientOption{ollama.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, ollama.WithBaseURL(baseURL))
	}
	return &OllamaProvider{
		name:      name,
		client:    ollama.NewClient(opts...),
		estimator: estimator,
	}
}

// Name returns the registry key for this backend.
func (p *OllamaProvider) Name() string { return p.name }

// Complete performs one chat attempt. Ollama sometimes omits eval counts
// (e.g. fully cached prompts); the estimator fills the gap so usage figures
// stay non-zero.
func (p *OllamaProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	wireReq := &ollama.ChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages),
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		wireReq.Options = &ollama.Options{NumPredict: req.MaxTokens}
		if req.Temperature > 0 {
			temp := req.Temperature
			wireReq.Options.Temperature = &temp
		}
	}

	start := time.Now()
	resp, err := p.client.Chat(ctx, wireReq)
	if err != nil {
		return nil, p.tagged(err)
	}
	latency := time.Since(start)

	promptTokens := resp.PromptEvalCount
	if promptTokens == 0 {
		promptTokens = p.estimator.EstimateMessages(req.Model, req.Messages)
	}
	completionTokens := resp.EvalCount
	if completionTokens == 0 {
		completionTokens = p.estimator.EstimateText(req.Model, resp.Message.Content)
	}

	return &domain.CompletionResponse{
		Content:          resp.Message.Content,
		Model:            resp.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          0,
		LatencyMS:        latency.Milliseconds(),
	}, nil
}

// Probe hits the tags endpoint, which answers without loading any model.
func (p *OllamaProvider) Probe(ctx context.Context) error {
	_, err := p.client.ListTags(ctx)
	return p.tagged(err)
}

// Models lists the locally pulled models.
func (p *OllamaProvider) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	tags, err := p.client.ListTags(ctx)
	if err != nil {
		return nil, p.tagged(err)
	}
	models := make([]domain.ModelInfo, len(tags.Models))
	for i, m := range tags.Models {
		models[i] = domain.ModelInfo{ID: m.Name, Provider: p.name}
	}
	return models, nil
}

func (p *OllamaProvider) tagged(err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Provider == "" {
		apiErr.Provider = p.name
	}
	return err
}

func toOllamaMessages(messages []domain.Message) []ollama.Message {
	out := make([]ollama.Message, len(messages))
	for i, m := range messages {
		out[i] = ollama.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
