package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, shaped so the
// router's substring-based retry classification (internal/router's
// classifyError) recognizes these errors without any provider-specific
// coupling.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverUnknown          FailoverReason = "unknown"
)

// ProviderError is a structured error from an LLM provider SDK call. Its
// Error() string always embeds the HTTP status (when known), which is what
// lets the router's plain string-matching retry classifier treat it as
// retryable without importing this package.
type ProviderError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s:", e.Provider))
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("%d", e.Status))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// classifyStatus maps an HTTP status code to a FailoverReason.
func classifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// classifyErr falls back to substring matching when no HTTP status is
// available, e.g. network-level errors from an SDK's transport.
func classifyErr(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "deadline exceeded"), strings.Contains(s, "timeout"):
		return FailoverTimeout
	case strings.Contains(s, "connection refused"), strings.Contains(s, "eof"), strings.Contains(s, "connection reset"):
		return FailoverServerError
	case errors.Is(err, context.Canceled):
		return FailoverUnknown
	default:
		return FailoverUnknown
	}
}

// wrapError builds a ProviderError from a status code and/or cause, used by
// every concrete provider's retry loop before handing the error to the
// router.
func wrapError(provider, model string, status int, cause error) *ProviderError {
	reason := FailoverUnknown
	if status != 0 {
		reason = classifyStatus(status)
	} else if cause != nil {
		reason = classifyErr(cause)
	}
	return &ProviderError{
		Reason:   reason,
		Provider: provider,
		Model:    model,
		Status:   status,
		Cause:    cause,
	}
}

// IsRetryable reports whether the reason is one the router's retry budget
// should be spent on (429, 5xx, timeout) rather than failing straight to
// the next candidate (401/403/400).
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}
