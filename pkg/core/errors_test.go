package core

import (
	"context"
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "invalid model format",
	}

	expected := "invalid_request_error: invalid model format"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrRateLimit,
		Message: "too many requests",
		Code:    "rate_limit_exceeded",
	}

	expected := "rate_limit_error: too many requests (code: rate_limit_exceeded)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", 60)
	if err.Type != ErrRateLimit {
		t.Errorf("Type = %v, want %v", err.Type, ErrRateLimit)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 60 {
		t.Errorf("RetryAfter = %v, want 60", err.RetryAfter)
	}
}

func TestNewProviderError_UnwrapsCause(t *testing.T) {
	cause := errors.New("upstream exploded")
	err := NewProviderError("openai", cause)
	if err.Type != ErrProvider {
		t.Errorf("Type = %v, want %v", err.Type, ErrProvider)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false")
	}
	if !err.IsRetryable() {
		t.Errorf("provider errors should be retryable")
	}
}

func TestNewTimeoutError(t *testing.T) {
	err := NewTimeoutError("anthropic", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline")
	}
	if err.Message != "anthropic: request timed out" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrInvalidRequest, false},
		{ErrAuthentication, true},
		{ErrConfiguration, true},
		{ErrNotFound, true},
		{ErrRateLimit, true},
		{ErrAPI, true},
		{ErrProvider, true},
		{ErrTimeout, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType}
			if err.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", err.IsRetryable(), tt.retryable)
			}
		})
	}
}

func TestParseModelString(t *testing.T) {
	p, m, err := ParseModelString("anthropic/claude-haiku-4-5")
	if err != nil || p != "anthropic" || m != "claude-haiku-4-5" {
		t.Fatalf("got %q %q %v", p, m, err)
	}
	for _, bad := range []string{"", "gpt-4o", "/x", "openai/"} {
		if _, _, err := ParseModelString(bad); err == nil {
			t.Fatalf("ParseModelString(%q) succeeded", bad)
		}
	}
}

func TestNewUpstreamError(t *testing.T) {
	cause := errors.New("upstream said no")
	cases := map[int]ErrorType{
		401: ErrAuthentication,
		403: ErrAuthentication,
		429: ErrRateLimit,
		400: ErrInvalidRequest,
		404: ErrNotFound,
		504: ErrTimeout,
		500: ErrProvider,
		0:   ErrProvider,
	}
	for status, want := range cases {
		err := NewUpstreamError("openai", status, cause)
		if err.Type != want {
			t.Fatalf("status %d: type=%s want %s", status, err.Type, want)
		}
		if !errors.Is(err, cause) {
			t.Fatalf("status %d: cause not preserved", status)
		}
	}
}
