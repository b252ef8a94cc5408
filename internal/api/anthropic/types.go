package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/akeswens/llm-gateway/internal/domain"
)

// MessageRequest is the wire request for POST /v1/messages.
type MessageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Message is one chat turn on the wire. The messages array carries only
// user/assistant turns; system prompts go in the request's System field.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageResponse is the wire response for POST /v1/messages.
type MessageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock is one piece of response content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text concatenates the text blocks of a response.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// Usage reports token consumption for a message.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse represents an Anthropic API error response.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError contains error details as Anthropic reports them.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Type + ": " + e.Message
}

// ToCanonical converts the Anthropic API error to a canonical domain error,
// keeping the HTTP status the backend answered with.
func (e *APIError) ToCanonical(statusCode int) *domain.APIError {
	return domain.NewAPIError(mapErrorType(e.Type, statusCode), e.Message).
		WithStatusCode(statusCode)
}

func mapErrorType(errType string, statusCode int) domain.ErrorType {
	switch errType {
	case "invalid_request_error":
		return domain.ErrorTypeInvalidRequest
	case "authentication_error", "permission_error":
		return domain.ErrorTypeAuthentication
	case "not_found_error":
		return domain.ErrorTypeNotFound
	case "rate_limit_error":
		return domain.ErrorTypeRateLimit
	case "overloaded_error":
		return domain.ErrorTypeOverloaded
	case "api_error":
		return domain.ErrorTypeServer
	}
	return statusToType(statusCode)
}

func statusToType(statusCode int) domain.ErrorType {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.ErrorTypeAuthentication
	case statusCode == http.StatusNotFound:
		return domain.ErrorTypeNotFound
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrorTypeRateLimit
	case statusCode == http.StatusServiceUnavailable:
		return domain.ErrorTypeOverloaded
	case statusCode >= 500:
		return domain.ErrorTypeServer
	case statusCode >= 400:
		return domain.ErrorTypeInvalidRequest
	}
	return domain.ErrorTypeServer
}

// NewStatusError builds a canonical error from a bare HTTP status and body,
// used when the error payload did not parse.
func NewStatusError(statusCode int, body []byte) *domain.APIError {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return domain.NewAPIError(statusToType(statusCode),
		fmt.Sprintf("API error (status %d): %s", statusCode, s)).
		WithStatusCode(statusCode)
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}
