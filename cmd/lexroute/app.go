package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lexroute-ai/lexroute/pkg/breaker"
	"github.com/lexroute-ai/lexroute/pkg/cache/memory"
	"github.com/lexroute-ai/lexroute/pkg/cache/redis"
	"github.com/lexroute-ai/lexroute/pkg/config"
	"github.com/lexroute-ai/lexroute/pkg/gateway"
	"github.com/lexroute-ai/lexroute/pkg/health"
	"github.com/lexroute-ai/lexroute/pkg/provider"
	"github.com/lexroute-ai/lexroute/pkg/provider/anthropic"
	"github.com/lexroute-ai/lexroute/pkg/provider/gemini"
	"github.com/lexroute-ai/lexroute/pkg/provider/openai"
	"github.com/lexroute-ai/lexroute/pkg/quota"
	"github.com/lexroute-ai/lexroute/pkg/router"
	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

// buildGateway assembles the full orchestration stack from the loaded
// config. The returned cleanup closes the tracker and the content cache;
// callers must run it even when they exit early.
func buildGateway() (*gateway.Gateway, func(), error) {
	reg, err := buildRegistry()
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open usage tracker: %w", err)
	}
	cleanups = append(cleanups, func() { _ = tr.Close() })

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	}, logrus.NewEntry(log))

	var responses *memory.Cache
	if cfg.ResponseCache.Enabled {
		responses = memory.New(cfg.ResponseCache.MaxEntries, cfg.ResponseCache.TTL)
	}

	var content *redis.Service
	if cfg.ContentCache.Enabled {
		content, err = contentCache()
		if err != nil {
			// A down cache never takes generation down with it.
			log.WithError(err).Warn("content cache unavailable, continuing without it")
			content = nil
		} else {
			cleanups = append(cleanups, func() { _ = content.Close() })
		}
	}

	var enforcer *quota.Enforcer
	if cfg.Quota.Enabled {
		enforcer = quota.New(cfg.Quota.Policies, tr)
	}

	monitor := health.New(reg, breakers, health.Config{
		Interval:      cfg.Health.Interval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		MaxConcurrent: cfg.Health.MaxConcurrent,
	}, log)

	g, err := gateway.New(cfg, gateway.Deps{
		Registry:  reg,
		Breakers:  breakers,
		Router:    router.New(cfg.ProviderNames(), cfg.Fallbacks),
		Monitor:   monitor,
		Responses: responses,
		Content:   content,
		Quota:     enforcer,
		Tracker:   tr,
		Log:       log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return g, cleanup, nil
}

// buildRegistry registers every configured provider that has a credential.
// A missing key disables its provider with a warning so one unset variable
// never blocks the rest of the chain.
func buildRegistry() (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			log.WithField("provider", pc.Name).Warn("api key not configured, provider disabled")
			continue
		}
		p, err := newProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("configure provider %s: %w", pc.Name, err)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	if reg.Len() == 0 {
		return nil, errors.New("no providers available: set OPENAI_API_KEY, ANTHROPIC_API_KEY or GEMINI_API_KEY")
	}
	return reg, nil
}

func newProvider(pc config.ProviderConfig) (provider.Provider, error) {
	timeout := cfg.Defaults.Timeout
	switch pc.Name {
	case "openai":
		return openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model, Timeout: timeout})
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model, Timeout: timeout})
	case "gemini":
		return gemini.New(gemini.Config{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model, Timeout: timeout})
	default:
		return nil, fmt.Errorf("unknown provider %q (expected openai, anthropic or gemini)", pc.Name)
	}
}

// contentCache connects to the Redis content cache. Errors are fatal here;
// buildGateway downgrades them to a warning.
func contentCache() (*redis.Service, error) {
	if !cfg.ContentCache.Enabled {
		return nil, errors.New("content cache is disabled in config")
	}
	return redis.New(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Profiles: cfg.ContentCache.Profiles,
	}, logrus.NewEntry(log))
}
