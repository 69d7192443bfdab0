package core

import (
	"fmt"
)

// Error represents an API error.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrConfiguration  ErrorType = "configuration_error"
	ErrAPI            ErrorType = "api_error"
	ErrProvider       ErrorType = "provider_error"
	ErrTimeout        ErrorType = "timeout_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewConfigurationError creates an operator-fixable configuration error.
func NewConfigurationError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConfiguration,
		Message: message,
		cause:   cause,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewProviderError creates a provider-specific error. The underlying error is
// kept for errors.Is/As but never serialized.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrProvider,
		Message: fmt.Sprintf("%s: %v", provider, underlying),
		Code:    provider,
		cause:   underlying,
	}
}

// NewTimeoutError wraps a deadline hit while waiting on an external service.
func NewTimeoutError(service string, underlying error) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: fmt.Sprintf("%s: request timed out", service),
		Code:    service,
		cause:   underlying,
	}
}

// IsRetryable reports whether the same request may still succeed on another
// provider. Credentials, models and quotas are per provider; a rejected
// request body is not.
func (e *Error) IsRetryable() bool {
	return e.Type != ErrInvalidRequest
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewUpstreamError classifies a failed upstream HTTP call by its status code.
func NewUpstreamError(provider string, status int, underlying error) *Error {
	e := NewProviderError(provider, underlying)
	switch {
	case status == 401 || status == 403:
		e.Type = ErrAuthentication
	case status == 404:
		e.Type = ErrNotFound
	case status == 429:
		e.Type = ErrRateLimit
	case status == 408 || status == 504:
		e.Type = ErrTimeout
	case status >= 400 && status < 500:
		e.Type = ErrInvalidRequest
	}
	return e
}
