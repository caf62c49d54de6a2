package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/thinksuit/thinksuit/pkg/models"
)

func TestProviderErrorMessage(t *testing.T) {
	err := wrapProviderError("anthropic", "claude-sonnet-4-5", 429, "rate_limit_error", fmt.Errorf("too many requests"))
	msg := err.Error()
	if !strings.HasPrefix(msg, models.CodeProvider) {
		t.Errorf("message %q does not start with %s", msg, models.CodeProvider)
	}
	if !strings.Contains(msg, "status=429") {
		t.Errorf("message %q missing status", msg)
	}
	if !strings.Contains(msg, "code=rate_limit_error") {
		t.Errorf("message %q missing code", msg)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"rate limit", 429, true},
		{"server error", 500, true},
		{"bad gateway", 502, true},
		{"auth failure", 401, false},
		{"bad request", 400, false},
		{"not found", 404, false},
		{"no status", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapProviderError("openai", "gpt-4o", tt.status, "", fmt.Errorf("boom"))
			if got := IsRetryable(err); got != tt.want {
				t.Errorf("IsRetryable(status=%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestIsRetryableNonProviderError(t *testing.T) {
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors must not be retryable")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := wrapProviderError("openai", "gpt-4o", 500, "", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
}
