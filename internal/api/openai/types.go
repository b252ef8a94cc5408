package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/akeswens/llm-gateway/internal/domain"
)

// ChatCompletionRequest is the wire request for POST /chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the wire response for POST /chat/completions.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model represents an OpenAI model.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList represents a list of models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorResponse represents an OpenAI API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError contains error details as OpenAI reports them.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ToCanonical converts the OpenAI API error to a canonical domain error,
// keeping the HTTP status the backend answered with.
func (e *APIError) ToCanonical(statusCode int) *domain.APIError {
	errType, code := mapErrorType(e.Type, e.Code, statusCode)
	return domain.NewAPIError(errType, e.Message).
		WithCode(code).
		WithStatusCode(statusCode)
}

func mapErrorType(errType, errCode string, statusCode int) (domain.ErrorType, domain.ErrorCode) {
	switch errCode {
	case "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	case "invalid_api_key":
		return domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "model_not_found":
		return domain.ErrorTypeNotFound, domain.ErrorCodeModelNotFound
	}

	switch errType {
	case "invalid_request_error":
		return domain.ErrorTypeInvalidRequest, ""
	case "authentication_error":
		return domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "not_found":
		return domain.ErrorTypeNotFound, domain.ErrorCodeModelNotFound
	case "rate_limit_error", "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	case "service_unavailable":
		return domain.ErrorTypeOverloaded, ""
	case "server_error":
		return domain.ErrorTypeServer, ""
	}

	return StatusToType(statusCode), ""
}

// StatusToType maps a bare HTTP status to a domain error type, for responses
// whose body carried no parseable error payload.
func StatusToType(statusCode int) domain.ErrorType {
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
	return domain.NewAPIError(StatusToType(statusCode),
		fmt.Sprintf("API error (status %d): %s", statusCode, TrimmedBody(body))).
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

// TrimmedBody compacts a raw error body for inclusion in error messages.
func TrimmedBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
