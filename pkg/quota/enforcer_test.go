package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

func setup(t *testing.T) (tracker.Tracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "quota_test.db")
	tr, err := tracker.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

func TestCheckUnderQuota(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "openai", Model: "gpt-4o",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.QuotaPolicy{
		{Provider: "openai", MaxTokens: 1000, Period: models.QuotaDaily},
	}, tr)

	if err := e.Check(ctx, "openai"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "openai", Model: "gpt-4o",
		PromptTokens: 500, CompletionTokens: 600, TotalTokens: 1100,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.QuotaPolicy{
		{Provider: "openai", MaxTokens: 1000, Period: models.QuotaDaily},
	}, tr)

	err := e.Check(ctx, "openai")
	if err == nil {
		t.Fatal("expected quota exceeded error")
	}
	if err != ErrQuotaExceeded {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestCheckIgnoresOtherProviders(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "anthropic", Model: "claude-sonnet-4-0",
		TotalTokens: 5000, CreatedAt: time.Now().UTC(),
	})

	e := New([]models.QuotaPolicy{
		{Provider: "openai", MaxTokens: 1000, Period: models.QuotaDaily},
	}, tr)

	if err := e.Check(ctx, "openai"); err != nil {
		t.Errorf("anthropic spend must not count against openai: %v", err)
	}
	if err := e.Check(ctx, "anthropic"); err != nil {
		t.Errorf("no policy for anthropic, expected nil, got %v", err)
	}
}

func TestWildcardPolicy(t *testing.T) {
	tr, ctx := setup(t)

	now := time.Now().UTC()
	_ = tr.Record(ctx, models.UsageRecord{Provider: "openai", Model: "gpt-4o", TotalTokens: 600, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{Provider: "gemini", Model: "gemini-2.0-flash", TotalTokens: 600, CreatedAt: now})

	e := New([]models.QuotaPolicy{
		{Provider: "*", MaxTokens: 1000, Period: models.QuotaDaily},
	}, tr)

	if err := e.Check(ctx, "anthropic"); err != ErrQuotaExceeded {
		t.Errorf("wildcard should cap every provider, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)

	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "openai", Model: "gpt-4o",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
		CreatedAt: time.Now().UTC(),
	})

	e := New([]models.QuotaPolicy{
		{Provider: "openai", MaxTokens: 1000, Period: models.QuotaDaily},
		{Provider: "*", MaxTokens: 10000, Period: models.QuotaMonthly},
	}, tr)

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Used != 150 {
		t.Errorf("expected 150 used, got %d", statuses[0].Used)
	}
	if statuses[0].Remaining != 850 {
		t.Errorf("expected 850 remaining, got %d", statuses[0].Remaining)
	}
	if statuses[1].Used != 150 {
		t.Errorf("wildcard monthly should count the spend, got %d", statuses[1].Used)
	}
}

func TestDailyWindowExcludesYesterday(t *testing.T) {
	tr, ctx := setup(t)
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "openai", Model: "gpt-4o", TotalTokens: 100,
		CreatedAt: now.Add(-24 * time.Hour),
	})
	_ = tr.Record(ctx, models.UsageRecord{
		Provider: "openai", Model: "gpt-4o", TotalTokens: 50,
		CreatedAt: now,
	})

	e := New([]models.QuotaPolicy{
		{Provider: "openai", MaxTokens: 1000, Period: models.QuotaDaily},
	}, tr)

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if statuses[0].Used != 50 {
		t.Errorf("expected only today's 50 tokens, got %d", statuses[0].Used)
	}
}
