package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// ProviderError wraps a backend failure with the HTTP status and
// provider-specific error code preserved for callers.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int
	Code      string
	Retryable bool
	Cause     error
}

// Error renders the stable E_PROVIDER prefix followed by the underlying
// message and whatever context was captured.
func (e *ProviderError) Error() string {
	parts := []string{models.CodeProvider}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a provider error flagged as transient
// (rate limit or server-side failure).
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return false
}

// retryableStatus classifies an HTTP status as transient.
func retryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status < 600
}

// wrapProviderError builds a ProviderError from a backend failure.
func wrapProviderError(provider, model string, status int, code string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Model:     model,
		Status:    status,
		Code:      code,
		Retryable: retryableStatus(status),
		Cause:     cause,
	}
}
