package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/akeswens/llm-gateway/internal/api/openai"
	"github.com/akeswens/llm-gateway/internal/domain"
)

// openaiPricing is USD per 1M tokens, input/output. Models missing from the
// table bill at gpt-3.5-turbo rates after date suffixes are stripped.
var openaiPricing = map[string][2]float64{
	"gpt-4-turbo":   {10.00, 30.00},
	"gpt-4":         {30.00, 60.00},
	"gpt-3.5-turbo": {0.50, 1.50},
	"gpt-4o":        {2.50, 10.00},
	"gpt-4o-mini":   {0.15, 0.60},
}

// OpenAIProvider serves completions through the OpenAI API.
type OpenAIProvider struct {
	name   string
	client *openai.Client
}

// NewOpenAIProvider builds the adapter. baseURL may be empty for the public
// endpoint.
func NewOpenAIProvider(name, apiKey, baseURL string, httpClient *http.Client) *OpenAIProvider {
	opts := []openai.ClientOption{openai.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClient(apiKey, opts...),
	}
}

// Name returns the registry key for this backend.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete performs one chat completion attempt.
func (p *OpenAIProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	wireReq := &openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, wireReq)
	if err != nil {
		return nil, p.tagged(err)
	}
	latency := time.Since(start)

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &domain.CompletionResponse{
		Content:          content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          openaiCost(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMS:        latency.Milliseconds(),
	}, nil
}

// Probe lists models, the cheapest authenticated call the API offers.
func (p *OpenAIProvider) Probe(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	return p.tagged(err)
}

// Models lists the chat-capable models the account can reach.
func (p *OpenAIProvider) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.tagged(err)
	}
	var models []domain.ModelInfo
	for _, m := range list.Data {
		if strings.Contains(m.ID, "gpt") {
			models = append(models, domain.ModelInfo{ID: m.ID, Provider: p.name})
		}
	}
	return models, nil
}

// tagged stamps this provider's name on canonical errors passing through.
func (p *OpenAIProvider) tagged(err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Provider == "" {
		apiErr.Provider = p.name
	}
	return err
}

func toOpenAIMessages(messages []domain.Message) []openai.Message {
	out := make([]openai.Message, len(messages))
	for i, m := range messages {
		out[i] = openai.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// openaiCost prices a completion in USD. Dated snapshot names like
// gpt-4o-2024-08-06 bill at their base model's rate.
func openaiCost(model string, promptTokens, completionTokens int) float64 {
	rates, ok := openaiPricing[normalizeOpenAIModel(model)]
	if !ok {
		rates = openaiPricing["gpt-3.5-turbo"]
	}
	return float64(promptTokens)*rates[0]/1e6 + float64(completionTokens)*rates[1]/1e6
}

func normalizeOpenAIModel(model string) string {
	if idx := strings.Index(model, "-20"); idx > 0 {
		return model[:idx]
	}
	return model
}
