package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DBPath != "lexroute.db" {
		t.Errorf("expected lexroute.db, got %s", cfg.DBPath)
	}
	if cfg.ResponseCache.TTL != 5*time.Minute {
		t.Errorf("expected 5m TTL, got %v", cfg.ResponseCache.TTL)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Retry.Count != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Retry.Count)
	}
	if got := cfg.Fallbacks["openai"]; len(got) != 2 || got[0] != "anthropic" {
		t.Errorf("unexpected openai fallbacks: %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
db_path: "test.db"
log:
  level: debug
redis:
  addr: "localhost:6380"
providers:
  - name: openai
    api_key: ${TEST_API_KEY}
    model: gpt-4o
    rps: 4
  - name: anthropic
    api_key: sk-ant
defaults:
  max_tokens: 2048
  temperature: 0.3
  timeout: 45s
fallbacks:
  openai: [anthropic]
retry:
  count: 2
  backoff: 500ms
breaker:
  timeout: 30s
response_cache:
  enabled: true
  ttl: 30s
  max_entries: 64
quota:
  enabled: true
  policies:
    - provider: openai
      max_tokens: 500000
      period: daily
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.DBPath != "test.db" {
		t.Errorf("expected test.db, got %s", cfg.DBPath)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Log.Level)
	}
	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[0].RPS != 4 {
		t.Errorf("expected rps 4, got %v", cfg.Providers[0].RPS)
	}
	if cfg.ResponseCache.TTL != 30*time.Second {
		t.Errorf("expected 30s TTL, got %v", cfg.ResponseCache.TTL)
	}
	if cfg.Retry.Backoff != 500*time.Millisecond {
		t.Errorf("expected 500ms backoff, got %v", cfg.Retry.Backoff)
	}
	if cfg.Defaults.MaxTokens != 2048 {
		t.Errorf("expected default max tokens 2048, got %d", cfg.Defaults.MaxTokens)
	}
	if cfg.Defaults.Temperature == nil || *cfg.Defaults.Temperature != 0.3 {
		t.Errorf("expected default temperature 0.3, got %v", cfg.Defaults.Temperature)
	}
	if cfg.Defaults.Timeout != 45*time.Second {
		t.Errorf("expected 45s request timeout, got %v", cfg.Defaults.Timeout)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected 30s breaker timeout, got %v", cfg.Breaker.Timeout)
	}
	if !cfg.Quota.Enabled {
		t.Error("expected quota enabled")
	}
	if len(cfg.Quota.Policies) != 1 || cfg.Quota.Policies[0].MaxTokens != 500000 {
		t.Fatalf("unexpected quota policies: %+v", cfg.Quota.Policies)
	}

	// Overrides replace single keys; untouched defaults survive.
	if got := cfg.Fallbacks["openai"]; len(got) != 1 || got[0] != "anthropic" {
		t.Errorf("fallback override not applied: %v", got)
	}
	if got := cfg.Fallbacks["gemini"]; len(got) != 2 {
		t.Errorf("default gemini fallbacks lost: %v", got)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("default failure threshold lost: %d", cfg.Breaker.FailureThreshold)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "openai"}, {Name: "openai"}}
		}},
		{"empty provider name", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: ""}}
		}},
		{"negative rps", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "openai", RPS: -1}}
		}},
		{"zero retries", func(c *Config) {
			c.Retry.Count = 0
		}},
		{"consensus below two", func(c *Config) {
			c.Consensus.MinProviders = 1
		}},
		{"negative default max tokens", func(c *Config) {
			c.Defaults.MaxTokens = -1
		}},
		{"default temperature out of range", func(c *Config) {
			temp := 2.5
			c.Defaults.Temperature = &temp
		}},
		{"quota for unknown provider", func(c *Config) {
			c.Quota.Policies = []models.QuotaPolicy{
				{Provider: "mistral", MaxTokens: 1000, Period: models.QuotaDaily},
			}
		}},
		{"quota bad period", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "openai"}}
			c.Quota.Policies = []models.QuotaPolicy{
				{Provider: "openai", MaxTokens: 1000, Period: "weekly"},
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestProviderLookup(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{Name: "openai", Model: "gpt-4o"},
		{Name: "gemini"},
	}

	p, ok := cfg.Provider("openai")
	if !ok || p.Model != "gpt-4o" {
		t.Errorf("lookup failed: %+v ok=%v", p, ok)
	}
	if _, ok := cfg.Provider("anthropic"); ok {
		t.Error("expected miss for unconfigured provider")
	}

	names := cfg.ProviderNames()
	if len(names) != 2 || names[0] != "openai" || names[1] != "gemini" {
		t.Errorf("unexpected names: %v", names)
	}
}
