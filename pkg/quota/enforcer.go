package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

// ErrQuotaExceeded is returned when a provider has spent its token quota.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Enforcer checks token usage against quota policies.
type Enforcer struct {
	policies []models.QuotaPolicy
	tracker  tracker.Tracker
}

// New creates an Enforcer with the given policies and tracker.
func New(policies []models.QuotaPolicy, t tracker.Tracker) *Enforcer {
	return &Enforcer{policies: policies, tracker: t}
}

// Check returns ErrQuotaExceeded if the provider has exhausted any applicable
// policy. A policy for provider "*" caps spend across all providers.
func (e *Enforcer) Check(ctx context.Context, provider string) error {
	for _, p := range e.policies {
		if p.Provider != "*" && p.Provider != provider {
			continue
		}
		used, err := e.used(ctx, p)
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if used >= p.MaxTokens {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// Status returns current usage against every policy.
func (e *Enforcer) Status(ctx context.Context) ([]models.QuotaStatus, error) {
	statuses := make([]models.QuotaStatus, 0, len(e.policies))
	for _, p := range e.policies {
		used, err := e.used(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("quota status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.QuotaStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, p models.QuotaPolicy) (int64, error) {
	since := periodStart(p.Period)
	if p.Provider == "*" {
		return e.tracker.TokensSince(ctx, since)
	}
	return e.tracker.ProviderTokensSince(ctx, p.Provider, since)
}

func periodStart(period models.QuotaPeriod) time.Time {
	now := time.Now().UTC()
	switch period {
	case models.QuotaMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
