// Package gateway is the orchestration core. It exposes one entry point for
// single-provider generation and one for multi-provider analysis, and layers
// prompt sanitization, response caching, health-aware routing, circuit
// breakers, token quotas, per-provider rate limits, retries with exponential
// backoff, and static fallbacks over the provider adapters. Business services
// call the gateway and never talk to a provider directly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lexroute-ai/lexroute/pkg/breaker"
	"github.com/lexroute-ai/lexroute/pkg/cache/memory"
	"github.com/lexroute-ai/lexroute/pkg/cache/redis"
	"github.com/lexroute-ai/lexroute/pkg/config"
	"github.com/lexroute-ai/lexroute/pkg/consensus"
	"github.com/lexroute-ai/lexroute/pkg/health"
	"github.com/lexroute-ai/lexroute/pkg/logging"
	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/provider"
	"github.com/lexroute-ai/lexroute/pkg/quota"
	"github.com/lexroute-ai/lexroute/pkg/router"
	"github.com/lexroute-ai/lexroute/pkg/tracker"
)

// Deps carries the collaborators a Gateway orchestrates. Registry, Breakers,
// Router and Monitor are required; the rest are optional and their features
// are disabled when nil.
type Deps struct {
	Registry  *provider.Registry
	Breakers  *breaker.Manager
	Router    *router.Router
	Monitor   *health.Monitor
	Responses *memory.Cache   // in-process response cache
	Content   *redis.Service  // Redis content cache
	Quota     *quota.Enforcer // token quota gate
	Tracker   tracker.Tracker // usage metering
	Log       *logrus.Logger
}

// Gateway routes generation requests across providers with full resilience
// semantics. Safe for concurrent use.
type Gateway struct {
	cfg       *config.Config
	reg       *provider.Registry
	breakers  *breaker.Manager
	router    *router.Router
	monitor   *health.Monitor
	responses *memory.Cache
	content   *redis.Service
	quota     *quota.Enforcer
	tracker   tracker.Tracker
	limiters  map[string]*rate.Limiter
	engine    *consensus.Engine
	log       *logrus.Logger

	requests  atomic.Int64
	failures  atomic.Int64
	fallbacks atomic.Int64
}

// New wires a Gateway from its dependencies. Rate limiters are built from the
// per-provider RPS settings; providers without an RPS run unlimited.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if deps.Registry == nil || deps.Registry.Len() == 0 {
		return nil, fmt.Errorf("gateway: at least one registered provider is required")
	}
	if deps.Breakers == nil {
		return nil, fmt.Errorf("gateway: breaker manager is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("gateway: router is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("gateway: health monitor is required")
	}
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}

	g := &Gateway{
		cfg:       cfg,
		reg:       deps.Registry,
		breakers:  deps.Breakers,
		router:    deps.Router,
		monitor:   deps.Monitor,
		responses: deps.Responses,
		content:   deps.Content,
		quota:     deps.Quota,
		tracker:   deps.Tracker,
		limiters:  make(map[string]*rate.Limiter),
		log:       log,
	}
	for _, p := range cfg.Providers {
		if p.RPS > 0 {
			burst := int(math.Ceil(p.RPS))
			g.limiters[p.Name] = rate.NewLimiter(rate.Limit(p.RPS), burst)
		}
	}
	g.engine = consensus.New(g.consensusGenerate, consensus.Config{
		MinProviders: cfg.Consensus.MinProviders,
		Synthesizer:  cfg.Consensus.SynthesisProvider,
	}, log)
	return g, nil
}

// Generate serves one generation request: sanitize, consult the response
// cache, then walk the health-ordered provider chain until a provider
// delivers. Requests with NoCache set skip the response cache in both
// directions. When the whole chain fails, a static fallback covers the
// operation types that have one; otherwise the wrapped chain failure is
// returned. Every outcome is metered.
func (g *Gateway) Generate(ctx context.Context, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	g.requests.Add(1)
	requestID := uuid.NewString()
	log := g.log.WithFields(logrus.Fields{"request_id": requestID, "operation": req.OperationType})

	req, err := g.prepare(ctx, requestID, req)
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if g.responses != nil && !req.NoCache {
		cacheKey = memory.Key(req)
		if resp, ok := g.responses.Get(cacheKey); ok {
			log.WithField("provider", resp.Provider).Debug("response cache hit")
			g.record(ctx, models.UsageRecord{
				RequestID:     requestID,
				Provider:      resp.Provider,
				Model:         resp.Model,
				OperationType: req.OperationType,
				CacheHit:      true,
			})
			return resp, nil
		}
	}

	chain, err := g.router.Resolve(req.Provider, g.monitor.Healthy)
	if err != nil {
		g.failures.Add(1)
		return nil, fmt.Errorf("resolve providers: %w", err)
	}
	pinned := req.Provider
	if pinned == "" && req.Model != "" {
		pinned = chain[0]
	}

	resp, err := g.execute(ctx, log, chain, pinned, req)
	if err != nil {
		if text, ok := g.fallbackFor(req.OperationType); ok && ctx.Err() == nil {
			g.fallbacks.Add(1)
			log.WithError(err).Warn("provider chain exhausted, serving static fallback")
			fb := &models.NormalizedResponse{
				ID:           requestID,
				Text:         text,
				Provider:     "fallback",
				FinishReason: "fallback",
				CreatedAt:    time.Now().UTC(),
			}
			g.record(ctx, models.UsageRecord{
				RequestID:     requestID,
				Provider:      "fallback",
				OperationType: req.OperationType,
			})
			return fb, nil
		}
		g.failures.Add(1)
		g.record(ctx, models.UsageRecord{
			RequestID:     requestID,
			OperationType: req.OperationType,
			ErrorKind:     errorKind(err),
		})
		return nil, err
	}

	if g.responses != nil && cacheKey != "" {
		g.responses.Put(cacheKey, resp)
	}
	g.record(ctx, usageFor(requestID, req, resp, false))
	log.WithFields(logrus.Fields{
		"provider":   resp.Provider,
		"model":      resp.Model,
		"attempts":   resp.Attempts,
		"latency_ms": resp.LatencyMS,
	}).Info("request served")
	return resp, nil
}

// Analyze answers one analysis request. With req.Consensus set it fans the
// request out across providers and aggregates the answers; otherwise a single
// provider serves the analysis in the same result shape. Both modes consult
// the content cache and store their results. A quorum failure with
// allowDegraded set degrades to the best single provider instead of erroring;
// degraded results are never cached, because they are not the answer the
// caller asked for. NoCache skips the content cache in both directions.
func (g *Gateway) Analyze(ctx context.Context, req *models.GenerationRequest, allowDegraded bool) (*models.ConsensusResult, error) {
	g.requests.Add(1)
	requestID := uuid.NewString()
	log := g.log.WithFields(logrus.Fields{"request_id": requestID, "operation": req.OperationType})

	req, err := g.prepare(ctx, requestID, req)
	if err != nil {
		return nil, err
	}

	if g.content != nil && !req.NoCache {
		if res, ok := g.content.Get(ctx, req.Prompt, req.OperationType, req.UserID, req.Params); ok {
			var result models.ConsensusResult
			if err := json.Unmarshal(res.Payload, &result); err == nil {
				result.CacheHitType = res.HitType
				result.CacheScore = res.Score
				log.WithFields(logrus.Fields{"hit": res.HitType, "score": res.Score}).Info("content cache hit")
				prov := ""
				if len(result.ProvidersUsed) > 0 {
					prov = result.ProvidersUsed[0]
				}
				g.record(ctx, models.UsageRecord{
					RequestID:     requestID,
					Provider:      prov,
					OperationType: req.OperationType,
					CacheHit:      true,
					Consensus:     req.Consensus,
				})
				return &result, nil
			}
			log.WithError(err).Warn("content cache payload unreadable, recomputing")
		}
	}

	chain, err := g.router.Resolve(req.Provider, g.monitor.Healthy)
	if err != nil {
		g.failures.Add(1)
		return nil, fmt.Errorf("resolve providers: %w", err)
	}

	if !req.Consensus {
		result, err := g.singleAnalysis(ctx, log, requestID, chain, req)
		if err != nil {
			return nil, err
		}
		g.storeAnalysis(ctx, log, req, result)
		log.WithField("provider", result.ProvidersUsed[0]).Info("single-provider analysis served")
		return result, nil
	}

	result, err := g.engine.Run(ctx, chain, req)
	if err != nil {
		var insufficient *consensus.InsufficientProvidersError
		if allowDegraded && errors.As(err, &insufficient) {
			log.WithError(err).Warn("consensus quorum not met, degrading to single provider")
			return g.singleAnalysis(ctx, log, requestID, chain, req)
		}
		g.failures.Add(1)
		return nil, err
	}

	g.storeAnalysis(ctx, log, req, result)
	log.WithFields(logrus.Fields{
		"providers": result.ProvidersUsed,
		"agreement": result.ProviderAgreement,
	}).Info("consensus analysis served")
	return result, nil
}

// singleAnalysis wraps one provider's answer in the consensus result shape.
// Confidence reflects the single voice.
func (g *Gateway) singleAnalysis(ctx context.Context, log *logrus.Entry, requestID string, chain []string, req *models.GenerationRequest) (*models.ConsensusResult, error) {
	resp, err := g.execute(ctx, log, chain, req.Provider, req)
	if err != nil {
		g.failures.Add(1)
		g.record(ctx, models.UsageRecord{
			RequestID:     requestID,
			OperationType: req.OperationType,
			Consensus:     req.Consensus,
			ErrorKind:     errorKind(err),
		})
		return nil, err
	}
	g.record(ctx, usageFor(requestID, req, resp, req.Consensus))

	result := &models.ConsensusResult{
		Responses:         []models.NormalizedResponse{*resp},
		ProvidersUsed:     []string{resp.Provider},
		TotalProviders:    1,
		ProviderAgreement: 1,
		Confidence:        100.0 / 3,
		TotalTokens:       resp.Usage.TotalTokens,
		AvgProcessingMS:   resp.LatencyMS,
		CreatedAt:         time.Now().UTC(),
	}
	if sa, ok := consensus.ParseStructured(resp.Text); ok {
		result.Aggregated = models.AnalysisResult{Structured: sa}
	} else {
		result.Aggregated = models.AnalysisResult{RawText: resp.Text}
	}
	return result, nil
}

// storeAnalysis writes a result through to the content cache. A disabled
// cache or a NoCache request makes this a no-op; store failures never fail
// the analysis.
func (g *Gateway) storeAnalysis(ctx context.Context, log *logrus.Entry, req *models.GenerationRequest, result *models.ConsensusResult) {
	if g.content == nil || req.NoCache {
		return
	}
	if err := g.content.Put(ctx, req.Prompt, req.OperationType, req.UserID, req.Params, result); err != nil {
		log.WithError(err).Warn("content cache store failed")
	}
}

// prepare sanitizes the prompt, validates the provider preference and fills
// unset generation knobs from the configured defaults, returning a copy of
// the request that downstream code may mutate. Defaults are applied before
// any cache key is derived, so "unset" and "explicitly the default" hit the
// same entry. Validation failures are metered and counted; they never reach
// a provider.
func (g *Gateway) prepare(ctx context.Context, requestID string, req *models.GenerationRequest) (*models.GenerationRequest, error) {
	prompt, err := SanitizePrompt(req.Prompt)
	if err != nil {
		g.failures.Add(1)
		g.record(ctx, models.UsageRecord{
			RequestID:     requestID,
			OperationType: req.OperationType,
			ErrorKind:     errorKind(err),
		})
		return nil, err
	}
	if req.Provider != "" {
		if _, ok := g.reg.Get(req.Provider); !ok {
			verr := &ValidationError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", req.Provider)}
			g.failures.Add(1)
			g.record(ctx, models.UsageRecord{
				RequestID:     requestID,
				Provider:      req.Provider,
				OperationType: req.OperationType,
				ErrorKind:     errorKind(verr),
			})
			return nil, verr
		}
	}
	r := *req
	r.Prompt = prompt
	if r.MaxTokens <= 0 {
		r.MaxTokens = g.cfg.Defaults.MaxTokens
	}
	if r.Temperature == nil && g.cfg.Defaults.Temperature != nil {
		t := *g.cfg.Defaults.Temperature
		r.Temperature = &t
	}
	return &r, nil
}

// consensusGenerate is the single-provider call the consensus engine fans out
// with. It shares the breaker, quota, rate limit and retry path with Generate
// and meters each call individually.
func (g *Gateway) consensusGenerate(ctx context.Context, name string, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	resp, err := g.attempt(ctx, name, req.Provider, req)
	if err != nil {
		g.record(ctx, models.UsageRecord{
			RequestID:     uuid.NewString(),
			Provider:      name,
			OperationType: req.OperationType,
			Consensus:     true,
			ErrorKind:     errorKind(err),
		})
		return nil, err
	}
	g.record(ctx, usageFor(resp.ID, req, resp, true))
	return resp, nil
}

// execute walks the resolved chain until one provider delivers. The returned
// error wraps ErrProviderUnavailable with per-provider detail.
func (g *Gateway) execute(ctx context.Context, log *logrus.Entry, chain []string, pinned string, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	var failures []string
	for _, name := range chain {
		resp, err := g.attempt(ctx, name, pinned, req)
		if err == nil {
			return resp, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		log.WithError(err).WithField("provider", name).Warn("provider exhausted, trying next")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, strings.Join(failures, "; "))
}

// attempt runs up to Retry.Count calls against one provider, or RetryCount
// when the request overrides it. Breaker rejections and exceeded quotas
// return immediately so the caller can switch providers without sleeping;
// retryable provider failures back off exponentially between attempts.
func (g *Gateway) attempt(ctx context.Context, name, pinned string, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	p, ok := g.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	br := g.breakers.Get(name)

	// A pinned model is vendor-specific: it rides only to the provider it was
	// pinned to. Every other provider in the chain uses its configured
	// default model.
	r := *req
	if name != pinned {
		r.Model = ""
	}

	attempts := g.cfg.Retry.Count
	if req.RetryCount > 0 {
		attempts = req.RetryCount
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := br.Allow(); err != nil {
			return nil, err
		}
		if g.quota != nil {
			if err := g.quota.Check(ctx, name); err != nil {
				if errors.Is(err, quota.ErrQuotaExceeded) {
					return nil, err
				}
				// The quota store being down must not take providers with it.
				g.log.WithError(err).WithField("provider", name).Warn("quota check failed, allowing request")
			}
		}
		if lim := g.limiters[name]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := p.Generate(ctx, &r)
		if err == nil {
			br.RecordSuccess()
			resp.Attempts = attempt + 1
			if price, ok := models.PricingFor(resp.Model, g.cfg.Pricing); ok {
				resp.CostEstimate = price.Cost(resp.Usage)
			}
			return resp, nil
		}

		br.RecordFailure()
		lastErr = err
		if !provider.IsRetryable(err) {
			break
		}
		if attempt < attempts-1 {
			if err := g.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// backoff sleeps Backoff * 2^attempt, capped at MaxBackoff and cut short by
// ctx cancellation.
func (g *Gateway) backoff(ctx context.Context, attempt int) error {
	d := g.cfg.Retry.Backoff << uint(attempt)
	if max := g.cfg.Retry.MaxBackoff; max > 0 && d > max {
		d = max
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HealthCheck sweeps every registered provider now and reports per-provider
// status plus the overall verdict. Providers that are configured but missing
// credentials never made it into the registry; they are reported unhealthy
// with CredentialSet false. Overall is healthy only when every provider is.
func (g *Gateway) HealthCheck(ctx context.Context) *models.HealthReport {
	statuses := g.monitor.Check(ctx)
	seen := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		seen[st.Name] = true
	}
	for _, pc := range g.cfg.Providers {
		if seen[pc.Name] {
			continue
		}
		statuses = append(statuses, models.ProviderStatus{
			Name:      pc.Name,
			Healthy:   false,
			LastError: "api key not configured",
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })

	report := &models.HealthReport{Providers: statuses, Overall: models.HealthHealthy}
	for _, st := range statuses {
		if !st.Healthy {
			report.Overall = models.HealthDegraded
			break
		}
	}
	return report
}

// Metrics is a point-in-time operational snapshot.
type Metrics struct {
	Requests      int64                     `json:"requests"`
	Failures      int64                     `json:"failures"`
	Fallbacks     int64                     `json:"fallbacks"`
	ResponseCache *models.CacheStats        `json:"response_cache,omitempty"`
	ContentCache  *models.ContentCacheStats `json:"content_cache,omitempty"`
	Breakers      map[string]breaker.Stats  `json:"breakers"`
	Quotas        []models.QuotaStatus      `json:"quotas,omitempty"`
}

// Metrics snapshots request counters, cache performance, breaker state and
// quota usage. The snapshot is best effort: a cache or quota store that
// cannot be reached leaves its section empty rather than failing the call.
func (g *Gateway) Metrics(ctx context.Context) *Metrics {
	m := &Metrics{
		Requests:  g.requests.Load(),
		Failures:  g.failures.Load(),
		Fallbacks: g.fallbacks.Load(),
		Breakers:  g.breakers.AllStats(),
	}
	if g.responses != nil {
		stats := g.responses.Stats()
		m.ResponseCache = &stats
	}
	if g.content != nil {
		if stats, err := g.content.Stats(ctx); err == nil {
			m.ContentCache = &stats
		} else {
			g.log.WithError(err).Warn("content cache stats unavailable")
		}
	}
	if g.quota != nil {
		if qs, err := g.quota.Status(ctx); err == nil {
			m.Quotas = qs
		} else {
			g.log.WithError(err).Warn("quota status unavailable")
		}
	}
	return m
}

// record meters one outcome. Metering must never fail a request; store
// errors are logged and dropped.
func (g *Gateway) record(ctx context.Context, rec models.UsageRecord) {
	if g.tracker == nil {
		return
	}
	if err := g.tracker.Record(ctx, rec); err != nil {
		g.log.WithError(err).Warn("usage record failed")
	}
}

// usageFor builds the usage record for a served response.
func usageFor(requestID string, req *models.GenerationRequest, resp *models.NormalizedResponse, consensus bool) models.UsageRecord {
	return models.UsageRecord{
		RequestID:        requestID,
		Provider:         resp.Provider,
		Model:            resp.Model,
		OperationType:    req.OperationType,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          resp.CostEstimate,
		LatencyMS:        resp.LatencyMS,
		CacheHit:         resp.Cached,
		Consensus:        consensus,
	}
}
