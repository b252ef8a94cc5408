package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorType is the machine-readable category of a gateway error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates rejected credentials at a backend.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeNotFound indicates a model or resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates a backend rate limit was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeOverloaded indicates a backend reported itself overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates a backend internal error.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeBudgetExceeded indicates a connection spend limit was hit.
	ErrorTypeBudgetExceeded ErrorType = "budget_exceeded"

	// ErrorTypeUpstreamFailure indicates a provider failed terminally after
	// retries (and a fallback, when one was attempted).
	ErrorTypeUpstreamFailure ErrorType = "upstream_failure"

	// ErrorTypeNotConfigured indicates the model routed to a provider that
	// has no configured client or credentials.
	ErrorTypeNotConfigured ErrorType = "provider_not_configured"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound     ErrorCode = "model_not_found"
)

// APIError is the canonical error surfaced by the pipeline. Provider clients
// translate backend error payloads into it; handlers translate it into HTTP
// responses.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Provider names the backend the error relates to, when known
	Provider string `json:"provider,omitempty"`

	// StatusCode is the HTTP status the backend returned, or the status
	// this error should be served with
	StatusCode int `json:"-"`

	// Cause is the underlying error, kept for wrapping chains
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the HTTP status this error should be served with.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeNotConfigured:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit, ErrorTypeBudgetExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstreamFailure:
		return http.StatusBadGateway
	case ErrorTypeServer:
		return http.StatusInternalServerError
	}
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithProvider names the backend the error relates to.
func (e *APIError) WithProvider(provider string) *APIError {
	e.Provider = provider
	return e
}

// WithStatusCode records the backend's HTTP status.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause attaches the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.Cause = err
	return e
}

// Convenience constructors for common errors

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).
		WithCode(ErrorCodeInvalidAPIKey)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded)
}

// ErrOverloaded creates an overloaded error.
func ErrOverloaded(message string) *APIError {
	return NewAPIError(ErrorTypeOverloaded, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ErrNotConfigured reports a model routing to a provider the gateway has no
// client for. Never retried and never rerouted: the routing table itself is
// misconfigured, not the backend.
func ErrNotConfigured(provider string) *APIError {
	return NewAPIError(ErrorTypeNotConfigured,
		fmt.Sprintf("provider %q is not configured: set its credentials or adjust routing", provider)).
		WithProvider(provider)
}

// ErrUpstreamFailure wraps the last backend error after retries (and any
// fallback hop) were exhausted. The provider named is always the one the
// request originally routed to.
func ErrUpstreamFailure(provider string, cause error) *APIError {
	return NewAPIError(ErrorTypeUpstreamFailure,
		fmt.Sprintf("provider %q failed: %v", provider, cause)).
		WithProvider(provider).
		WithCause(cause)
}

// BudgetExceededError reports a spend limit hit for the connection bound to
// a provider. Carries the figures the caller needs to display the block.
type BudgetExceededError struct {
	Provider          string    `json:"provider"`
	Period            string    `json:"limit_type"`
	LimitUSD          float64   `json:"limit_usd"`
	SpentUSD          float64   `json:"spent_usd"`
	ResetsAt          time.Time `json:"resets_at"`
	FallbackAvailable bool      `json:"fallback_available"`
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s: %s limit $%.2f reached ($%.2f spent), resets %s",
		e.Provider, e.Period, e.LimitUSD, e.SpentUSD, e.ResetsAt.UTC().Format(time.RFC3339))
}
