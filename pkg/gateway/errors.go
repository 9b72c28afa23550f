package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexroute-ai/lexroute/pkg/breaker"
	"github.com/lexroute-ai/lexroute/pkg/provider"
	"github.com/lexroute-ai/lexroute/pkg/quota"
)

// ErrProviderUnavailable is returned when every provider in the resolved
// chain has been exhausted and no static fallback covers the operation.
// Callers get it wrapped with per-provider detail; match with errors.Is.
var ErrProviderUnavailable = errors.New("all providers unavailable")

// ValidationError rejects a request before any provider is consulted.
// It is never retried and its result is never cached.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// errorKind classifies err for usage records, where failed requests carry a
// stable machine-readable kind instead of the full error text.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return "provider_error"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "validation"
	}
	return "error"
}
