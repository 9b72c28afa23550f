// Package consensus merges independent provider answers to one analysis
// request into a single higher-confidence result. Structured answers
// aggregate field by field; prose answers are synthesized by a designated
// provider with a deterministic concatenation fallback.
package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lexroute-ai/lexroute/pkg/logging"
	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/textsim"
)

const (
	// topItems caps ranked list fields in the aggregate.
	topItems = 10

	// maxRiskVariance is the worst possible population variance of risk
	// scores clamped to the 0-10 scale (half the providers at 0, half at 10).
	maxRiskVariance = 25.0
)

// InsufficientProvidersError reports a consensus run that could not gather
// enough usable answers. Callers typically retry single-provider.
type InsufficientProvidersError struct {
	Got  int
	Want int
}

func (e *InsufficientProvidersError) Error() string {
	return fmt.Sprintf("consensus needs %d providers, got %d", e.Want, e.Got)
}

// GenerateFunc executes one guarded provider attempt. The gateway injects
// its breaker-and-retry protected single call here so consensus fan-out
// shares the same failure handling as ordinary requests.
type GenerateFunc func(ctx context.Context, provider string, req *models.GenerationRequest) (*models.NormalizedResponse, error)

// Config tunes consensus runs.
type Config struct {
	// MinProviders is the quorum of usable answers; never below 2.
	MinProviders int
	// Synthesizer overrides which provider merges prose answers. Empty
	// selects the first successful provider in chain order.
	Synthesizer string
}

// Engine fans one request out to several providers and aggregates the
// answers.
type Engine struct {
	gen GenerateFunc
	cfg Config
	log *logrus.Logger
}

// New creates an Engine. A nil logger discards engine logs.
func New(gen GenerateFunc, cfg Config, log *logrus.Logger) *Engine {
	if cfg.MinProviders < 2 {
		cfg.MinProviders = 2
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{gen: gen, cfg: cfg, log: log}
}

// Run executes req against every provider in the chain concurrently and
// aggregates the successful answers. It fails with
// InsufficientProvidersError when the chain or the collected successes fall
// short of the quorum.
func (e *Engine) Run(ctx context.Context, providers []string, req *models.GenerationRequest) (*models.ConsensusResult, error) {
	want := e.cfg.MinProviders
	if req.MinProviders > want {
		want = req.MinProviders
	}
	if len(providers) < want {
		return nil, &InsufficientProvidersError{Got: len(providers), Want: want}
	}

	type outcome struct {
		provider string
		resp     *models.NormalizedResponse
		err      error
	}
	results := make(chan outcome, len(providers))
	var wg sync.WaitGroup
	for _, name := range providers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			resp, err := e.gen(ctx, name, req)
			results <- outcome{provider: name, resp: resp, err: err}
		}(name)
	}
	wg.Wait()
	close(results)

	byProvider := make(map[string]*models.NormalizedResponse, len(providers))
	for out := range results {
		if out.err != nil {
			e.log.WithError(out.err).WithField("provider", out.provider).
				Warn("consensus provider failed")
			continue
		}
		byProvider[out.provider] = out.resp
	}
	if len(byProvider) < want {
		return nil, &InsufficientProvidersError{Got: len(byProvider), Want: want}
	}

	// Everything downstream sees chain order, not completion order, so
	// aggregates and fallback concatenations stay deterministic.
	responses := make([]models.NormalizedResponse, 0, len(byProvider))
	used := make([]string, 0, len(byProvider))
	for _, name := range providers {
		if resp, ok := byProvider[name]; ok {
			responses = append(responses, *resp)
			used = append(used, name)
		}
	}

	res := &models.ConsensusResult{
		Responses:      responses,
		ProvidersUsed:  used,
		TotalProviders: len(providers),
		Confidence:     math.Min(100, float64(len(responses))/3*100),
		CreatedAt:      time.Now().UTC(),
	}
	var totalLatency int64
	for i := range responses {
		res.TotalTokens += responses[i].Usage.TotalTokens
		totalLatency += responses[i].LatencyMS
	}
	res.AvgProcessingMS = totalLatency / int64(len(responses))

	synthesizer := e.cfg.Synthesizer
	if synthesizer == "" {
		synthesizer = used[0]
	}

	parsed := make([]*models.StructuredAnalysis, len(responses))
	structuredCount := 0
	for i := range responses {
		if sa, ok := ParseStructured(responses[i].Text); ok {
			parsed[i] = sa
			structuredCount++
		}
	}

	// Two structured answers are enough to aggregate field by field even
	// when other providers replied in prose; below that the whole result
	// degrades to synthesized text.
	if structuredCount >= 2 {
		res.Aggregated, res.ProviderAgreement = e.aggregateStructured(ctx, synthesizer, req, responses, parsed)
	} else {
		candidates := make([]labeledText, len(responses))
		texts := make([]string, len(responses))
		for i := range responses {
			candidates[i] = labeledText{Provider: responses[i].Provider, Text: responses[i].Text}
			texts[i] = responses[i].Text
		}
		res.Aggregated = models.AnalysisResult{RawText: e.synthesize(ctx, synthesizer, req, candidates)}
		res.ProviderAgreement = textAgreement(texts)
	}

	return res, nil
}

type labeledText struct {
	Provider string
	Text     string
}

func (e *Engine) aggregateStructured(ctx context.Context, synthesizer string, req *models.GenerationRequest, responses []models.NormalizedResponse, parsed []*models.StructuredAnalysis) (models.AnalysisResult, float64) {
	var scores []float64
	var summaries []labeledText
	var issueLists, recLists [][]string
	for i, sa := range parsed {
		if sa == nil {
			continue
		}
		scores = append(scores, clampScore(sa.RiskScore))
		if sa.Summary != "" {
			summaries = append(summaries, labeledText{Provider: responses[i].Provider, Text: sa.Summary})
		}
		issueLists = append(issueLists, sa.KeyIssues)
		recLists = append(recLists, sa.Recommendations)
	}

	mean, variance := meanVariance(scores)
	agreement := 1 - math.Min(1, variance/maxRiskVariance)

	out := &models.StructuredAnalysis{
		RiskScore:       mean,
		Summary:         e.synthesize(ctx, synthesizer, req, summaries),
		KeyIssues:       rankItems(issueLists, topItems),
		Recommendations: rankItems(recLists, topItems),
	}
	return models.AnalysisResult{Structured: out}, agreement
}

// synthesize asks the designated provider to merge candidate answers into
// one. Any failure falls back to labeled concatenation; a merge never drops
// an answer silently.
func (e *Engine) synthesize(ctx context.Context, provider string, req *models.GenerationRequest, candidates []labeledText) string {
	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0].Text
	}

	if provider != "" && e.gen != nil {
		sreq := &models.GenerationRequest{
			Prompt:        synthesisPrompt(candidates),
			System:        "You merge candidate answers from several legal analysis models into a single consistent answer. Preserve every material legal point; resolve contradictions conservatively.",
			OperationType: req.OperationType,
			UserID:        req.UserID,
		}
		resp, err := e.gen(ctx, provider, sreq)
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			return resp.Text
		}
		if err != nil {
			e.log.WithError(err).WithField("provider", provider).
				Warn("synthesis failed, falling back to concatenation")
		}
	}

	return concatLabeled(candidates)
}

func synthesisPrompt(candidates []labeledText) string {
	var sb strings.Builder
	sb.WriteString("Candidate answers follow, one per provider. Produce the single best merged answer.\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", c.Provider, c.Text)
	}
	return sb.String()
}

func concatLabeled(candidates []labeledText) string {
	var sb strings.Builder
	for i, c := range candidates {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", c.Provider, c.Text)
	}
	return sb.String()
}

// meanVariance returns the arithmetic mean and population variance.
func meanVariance(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, sq / float64(len(values))
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// rankItems merges list fields across providers: items that normalize to the
// same form count as one entry, entries rank by frequency, ties keep
// first-seen order, and the top limit survive. The first-seen wording is the
// one returned.
func rankItems(lists [][]string, limit int) []string {
	type ranked struct {
		display string
		count   int
	}
	var order []string
	byKey := make(map[string]*ranked)
	for _, list := range lists {
		for _, item := range list {
			key := normalizeItem(item)
			if key == "" {
				continue
			}
			r, ok := byKey[key]
			if !ok {
				r = &ranked{display: strings.TrimSpace(item)}
				byKey[key] = r
				order = append(order, key)
			}
			r.count++
		}
	}

	items := make([]*ranked, 0, len(order))
	for _, key := range order {
		items = append(items, byKey[key])
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].count > items[j].count })
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.display
	}
	return out
}

// textAgreement scores how close the prose answers are: the mean pairwise
// fingerprint similarity. Fewer than two answers count as full agreement.
func textAgreement(texts []string) float64 {
	fps := make([]uint64, 0, len(texts))
	for _, t := range texts {
		normalized := strings.Join(strings.Fields(strings.ToLower(t)), " ")
		if fp := textsim.Fingerprint(normalized); fp != 0 {
			fps = append(fps, fp)
		}
	}
	if len(fps) < 2 {
		return 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			sum += textsim.Similarity(fps[i], fps[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
