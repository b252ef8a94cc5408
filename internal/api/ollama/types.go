package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akeswens/llm-gateway/internal/domain"
)

// ChatRequest is the wire request for POST /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries generation parameters. NumPredict caps the number of
// generated tokens, mirroring max_tokens elsewhere.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// ChatResponse is the wire response for POST /api/chat with stream=false.
type ChatResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         Message   `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason,omitempty"`
	TotalDuration   int64     `json:"total_duration,omitempty"`
	PromptEvalCount int       `json:"prompt_eval_count,omitempty"`
	EvalCount       int       `json:"eval_count,omitempty"`
}

// TagsResponse is the wire response for GET /api/tags.
type TagsResponse struct {
	Models []ModelTag `json:"models"`
}

// ModelTag describes one locally available model.
type ModelTag struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// ErrorResponse is Ollama's error shape: a bare message string.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ToCanonical converts an Ollama error body and status to a canonical
// domain error.
func ToCanonical(statusCode int, body []byte) *domain.APIError {
	message := ""
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	} else {
		message = strings.TrimSpace(string(body))
		if len(message) > 200 {
			message = message[:200] + "..."
		}
		message = fmt.Sprintf("API error (status %d): %s", statusCode, message)
	}

	errType := domain.ErrorTypeServer
	switch {
	case statusCode == http.StatusNotFound:
		errType = domain.ErrorTypeNotFound
	case statusCode == http.StatusServiceUnavailable:
		errType = domain.ErrorTypeOverloaded
	case statusCode >= 400 && statusCode < 500:
		errType = domain.ErrorTypeInvalidRequest
	}

	return domain.NewAPIError(errType, message).WithStatusCode(statusCode)
}
