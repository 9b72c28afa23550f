package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error is the uniform failure report from a provider adapter. StatusCode is
// zero for transport-level failures. Retryable tells the orchestrator whether
// trying again (same provider or the next one) can help.
type Error struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// RetryableStatus reports whether an HTTP status is worth retrying:
// rate limits and upstream 5xx, nothing else.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable classifies err for the retry loop. The adapter's verdict wins
// when present: a per-request client timeout wraps context.DeadlineExceeded
// yet is still worth retrying, while a canceled caller context is not, and
// only the adapter can tell the two apart. Bare context errors (from rate
// limiter waits and the like) are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return false
}
