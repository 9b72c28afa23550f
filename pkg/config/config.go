package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lexroute-ai/lexroute/pkg/cache/redis"
	"github.com/lexroute-ai/lexroute/pkg/logging"
	"github.com/lexroute-ai/lexroute/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all LexRoute configuration.
type Config struct {
	Log             logging.Config        `yaml:"log"`
	DBPath          string                `yaml:"db_path"`
	Redis           RedisConfig           `yaml:"redis"`
	Providers       []ProviderConfig      `yaml:"providers"`
	Defaults        DefaultsConfig        `yaml:"defaults"`
	Fallbacks       map[string][]string   `yaml:"fallbacks"`
	StaticFallbacks map[string]string     `yaml:"static_fallbacks"`
	Retry           RetryConfig           `yaml:"retry"`
	Breaker         BreakerConfig         `yaml:"breaker"`
	ResponseCache   ResponseCacheConfig   `yaml:"response_cache"`
	ContentCache    ContentCacheConfig    `yaml:"content_cache"`
	Consensus       ConsensusConfig       `yaml:"consensus"`
	Health          HealthConfig          `yaml:"health"`
	Quota           QuotaConfig           `yaml:"quota"`
	Pricing         []models.ModelPricing `yaml:"pricing"`
}

// ProviderConfig defines an upstream LLM provider.
// Name is "openai", "anthropic" or "gemini"; RPS of zero means unlimited.
type ProviderConfig struct {
	Name    string  `yaml:"name"`
	APIKey  string  `yaml:"api_key"`
	Model   string  `yaml:"model"`
	BaseURL string  `yaml:"base_url"`
	RPS     float64 `yaml:"rps"`
}

// RedisConfig points at the content cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultsConfig supplies generation parameters for requests that leave them
// unset. Zero values defer to the adapter defaults.
type DefaultsConfig struct {
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetryConfig controls per-request retry behavior.
type RetryConfig struct {
	Count      int           `yaml:"count"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// BreakerConfig controls the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// ResponseCacheConfig controls the in-process response cache.
type ResponseCacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ContentCacheConfig controls the Redis content cache. Profiles override
// the built-in per-operation defaults key by key.
type ContentCacheConfig struct {
	Enabled  bool                     `yaml:"enabled"`
	Profiles map[string]redis.Profile `yaml:"profiles"`
}

// ConsensusConfig controls multi-provider consensus runs.
type ConsensusConfig struct {
	MinProviders      int    `yaml:"min_providers"`
	SynthesisProvider string `yaml:"synthesis_provider"`
}

// HealthConfig controls the background provider health monitor.
type HealthConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// QuotaConfig controls token quota enforcement.
type QuotaConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Policies []models.QuotaPolicy `yaml:"policies"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: logging.Config{
			Level:     "info",
			MaxSizeMB: 10,
		},
		DBPath: "lexroute.db",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Fallbacks: map[string][]string{
			"openai":    {"anthropic", "gemini"},
			"anthropic": {"openai", "gemini"},
			"gemini":    {"openai", "anthropic"},
		},
		Retry: RetryConfig{
			Count:      3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
			SuccessThreshold: 1,
		},
		ResponseCache: ResponseCacheConfig{
			Enabled:    true,
			TTL:        5 * time.Minute,
			MaxEntries: 1024,
		},
		Consensus: ConsensusConfig{
			MinProviders: 2,
		},
		Health: HealthConfig{
			Interval:      time.Minute,
			ProbeTimeout:  10 * time.Second,
			MaxConcurrent: 3,
		},
	}
}

// Load reads a YAML config file, expands environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Provider returns the configuration for the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ProviderNames returns the configured provider names in order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return names
}

// Validate rejects configurations that cannot be served. A provider without
// an API key is allowed here; the gateway disables it with a warning.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if p.RPS < 0 {
			return fmt.Errorf("provider %q: rps must not be negative", p.Name)
		}
	}

	if c.Retry.Count < 1 {
		return fmt.Errorf("retry.count must be at least 1")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be at least 1")
	}
	if c.ResponseCache.MaxEntries < 0 {
		return fmt.Errorf("response_cache.max_entries must not be negative")
	}
	if c.Defaults.MaxTokens < 0 {
		return fmt.Errorf("defaults.max_tokens must not be negative")
	}
	if t := c.Defaults.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("defaults.temperature must be between 0 and 2")
	}
	if c.Defaults.Timeout < 0 {
		return fmt.Errorf("defaults.timeout must not be negative")
	}
	if c.Consensus.MinProviders < 2 {
		return fmt.Errorf("consensus.min_providers must be at least 2")
	}
	if c.Health.MaxConcurrent < 1 {
		return fmt.Errorf("health.max_concurrent must be at least 1")
	}

	for _, policy := range c.Quota.Policies {
		if _, ok := c.Provider(policy.Provider); !ok && policy.Provider != "*" {
			return fmt.Errorf("quota policy for unknown provider %q", policy.Provider)
		}
		if policy.MaxTokens <= 0 {
			return fmt.Errorf("quota policy %q: max_tokens must be positive", policy.Provider)
		}
		switch policy.Period {
		case models.QuotaDaily, models.QuotaMonthly:
		default:
			return fmt.Errorf("quota policy %q: unknown period %q", policy.Provider, policy.Period)
		}
	}

	return nil
}
