// Package domain holds the canonical types that flow through the completion
// pipeline: chat requests and responses, model descriptions, and the error
// taxonomy shared by every component.
package domain

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the gateway's canonical chat-completion request.
// Immutable once constructed; passed by pointer through the pipeline and
// never mutated by any component.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// CompletionResponse is produced once per successful provider attempt and
// never mutated afterwards.
type CompletionResponse struct {
	Content          string  `json:"content"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	LatencyMS        int64   `json:"latency_ms"`
}

// ModelInfo describes one model advertised by a provider.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}
