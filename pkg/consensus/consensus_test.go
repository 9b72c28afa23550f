package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

// fakeGen serves canned per-provider answers and records synthesis calls,
// recognizable by their merge prompt.
type fakeGen struct {
	mu            sync.Mutex
	responses     map[string]*models.NormalizedResponse
	errs          map[string]error
	synthText     string
	synthErr      error
	synthProvider string
	synthCalls    int
}

func (f *fakeGen) generate(_ context.Context, provider string, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(req.Prompt, "Candidate answers follow") {
		f.synthCalls++
		f.synthProvider = provider
		if f.synthErr != nil {
			return nil, f.synthErr
		}
		return &models.NormalizedResponse{Provider: provider, Text: f.synthText}, nil
	}
	if err := f.errs[provider]; err != nil {
		return nil, err
	}
	resp, ok := f.responses[provider]
	if !ok {
		return nil, errors.New("no canned response")
	}
	out := *resp
	return &out, nil
}

func structuredText(t *testing.T, score float64, summary string, issues, recs []string) string {
	t.Helper()
	payload := map[string]any{
		"risk_score":      score,
		"summary":         summary,
		"key_issues":      issues,
		"recommendations": recs,
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(b)
}

func TestRunRequiresEnoughProviders(t *testing.T) {
	f := &fakeGen{}
	e := New(f.generate, Config{}, nil)

	_, err := e.Run(context.Background(), []string{"openai"}, &models.GenerationRequest{Prompt: "p"})
	var ipe *InsufficientProvidersError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, 1, ipe.Got)
	assert.Equal(t, 2, ipe.Want)
}

func TestRunRequiresEnoughSuccesses(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai": {Provider: "openai", Text: "fine"},
		},
		errs: map[string]error{
			"anthropic": errors.New("boom"),
			"gemini":    errors.New("boom"),
		},
	}
	e := New(f.generate, Config{}, nil)

	_, err := e.Run(context.Background(), []string{"openai", "anthropic", "gemini"}, &models.GenerationRequest{Prompt: "p"})
	var ipe *InsufficientProvidersError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, 1, ipe.Got)
	assert.Equal(t, 2, ipe.Want)
}

func TestRequestCanRaiseQuorum(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai":    {Provider: "openai", Text: "a"},
			"anthropic": {Provider: "anthropic", Text: "b"},
		},
		errs: map[string]error{"gemini": errors.New("down")},
	}
	e := New(f.generate, Config{}, nil)

	req := &models.GenerationRequest{Prompt: "p", MinProviders: 3}
	_, err := e.Run(context.Background(), []string{"openai", "anthropic", "gemini"}, req)
	var ipe *InsufficientProvidersError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, 2, ipe.Got)
	assert.Equal(t, 3, ipe.Want)
}

func TestStructuredAggregation(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai": {
				Provider: "openai", LatencyMS: 90,
				Usage: models.Usage{TotalTokens: 30},
				Text: structuredText(t, 4, "openai summary",
					[]string{"Missing indemnification clause", "Unlimited liability exposure"},
					[]string{"Add an indemnification clause"}),
			},
			"anthropic": {
				Provider: "anthropic", LatencyMS: 120,
				Usage: models.Usage{TotalTokens: 40},
				Text: structuredText(t, 6, "anthropic summary",
					[]string{"missing indemnification clause", "No termination provision"},
					[]string{"Add an indemnification clause"}),
			},
			"gemini": {
				Provider: "gemini", LatencyMS: 150,
				Usage: models.Usage{TotalTokens: 50},
				Text: structuredText(t, 8, "gemini summary",
					[]string{"Unlimited liability exposure!", "missing indemnification clause", "no termination provision"},
					[]string{"Add an indemnification clause"}),
			},
		},
		synthText: "merged summary",
	}
	e := New(f.generate, Config{}, nil)

	res, err := e.Run(context.Background(),
		[]string{"openai", "anthropic", "gemini"},
		&models.GenerationRequest{Prompt: "analyze this", OperationType: models.OpContractAnalysis})
	require.NoError(t, err)

	assert.Equal(t, "structured", res.Aggregated.Kind())
	sa := res.Aggregated.Structured
	assert.InDelta(t, 6.0, sa.RiskScore, 1e-6)
	// Population variance of 4,6,8 is 8/3; agreement = 1 - (8/3)/25.
	assert.InDelta(t, 0.8933333, res.ProviderAgreement, 1e-6)

	assert.Equal(t, []string{
		"Missing indemnification clause",
		"Unlimited liability exposure",
		"No termination provision",
	}, sa.KeyIssues)
	assert.Equal(t, []string{"Add an indemnification clause"}, sa.Recommendations)

	assert.Equal(t, "merged summary", sa.Summary)
	assert.Equal(t, "openai", f.synthProvider, "chain head synthesizes by default")

	assert.Equal(t, []string{"openai", "anthropic", "gemini"}, res.ProvidersUsed)
	assert.Equal(t, 3, res.TotalProviders)
	assert.Equal(t, 100.0, res.Confidence)
	assert.Equal(t, 120, res.TotalTokens)
	assert.Equal(t, int64(120), res.AvgProcessingMS)
	require.Len(t, res.Responses, 3)
	assert.Equal(t, "openai", res.Responses[0].Provider, "responses keep chain order")
}

func TestMixedStructuredAndProse(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai":    {Provider: "openai", Text: structuredText(t, 5, "s1", nil, nil)},
			"anthropic": {Provider: "anthropic", Text: structuredText(t, 7, "s2", nil, nil)},
			"gemini":    {Provider: "gemini", Text: "I think the contract looks mostly fine."},
		},
		synthText: "merged",
	}
	e := New(f.generate, Config{}, nil)

	res, err := e.Run(context.Background(),
		[]string{"openai", "anthropic", "gemini"},
		&models.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, "structured", res.Aggregated.Kind(),
		"two structured answers aggregate even when a third is prose")
	assert.InDelta(t, 6.0, res.Aggregated.Structured.RiskScore, 1e-6)
	// Variance of 5,7 is 1; agreement = 1 - 1/25.
	assert.InDelta(t, 0.96, res.ProviderAgreement, 1e-9)
	assert.Len(t, res.Responses, 3)
}

func TestProseFallsBackToConcat(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai":    {Provider: "openai", Text: "answer one"},
			"anthropic": {Provider: "anthropic", Text: "answer two"},
		},
		synthErr: errors.New("synthesizer down"),
	}
	e := New(f.generate, Config{}, nil)

	res, err := e.Run(context.Background(), []string{"openai", "anthropic"}, &models.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, "raw_text", res.Aggregated.Kind())
	assert.Equal(t, "[openai]\nanswer one\n\n[anthropic]\nanswer two", res.Aggregated.RawText)
	assert.Equal(t, 1, f.synthCalls, "synthesis was attempted once before falling back")
}

func TestSynthesizerOverride(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai":    {Provider: "openai", Text: "answer one"},
			"anthropic": {Provider: "anthropic", Text: "answer two"},
		},
		synthText: "merged prose",
	}
	e := New(f.generate, Config{Synthesizer: "gemini"}, nil)

	res, err := e.Run(context.Background(), []string{"openai", "anthropic"}, &models.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, "merged prose", res.Aggregated.RawText)
	assert.Equal(t, "gemini", f.synthProvider)
}

func TestIdenticalProseScoresFullAgreement(t *testing.T) {
	text := "The indemnification clause in section twelve shifts all liability to the vendor without any cap."
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai":    {Provider: "openai", Text: text},
			"anthropic": {Provider: "anthropic", Text: text},
		},
		synthErr: errors.New("down"),
	}
	e := New(f.generate, Config{}, nil)

	res, err := e.Run(context.Background(), []string{"openai", "anthropic"}, &models.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.ProviderAgreement)
}

func TestConfidenceScalesWithProviders(t *testing.T) {
	f := &fakeGen{
		responses: map[string]*models.NormalizedResponse{
			"openai":    {Provider: "openai", Text: "a"},
			"anthropic": {Provider: "anthropic", Text: "b"},
		},
		synthText: "merged",
	}
	e := New(f.generate, Config{}, nil)

	res, err := e.Run(context.Background(), []string{"openai", "anthropic"}, &models.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.InDelta(t, 66.6667, res.Confidence, 1e-3)
}

func TestParseStructured(t *testing.T) {
	plain := `{"risk_score": 7.5, "summary": "tight deadlines", "key_issues": ["a"], "recommendations": ["b"]}`

	cases := []struct {
		name string
		text string
		ok   bool
		risk float64
	}{
		{"plain object", plain, true, 7.5},
		{"fenced with tag", "Here is the analysis:\n```json\n" + plain + "\n```", true, 7.5},
		{"fenced without tag", "```\n" + plain + "\n```", true, 7.5},
		{"prose wrapped", `After review: {"risk_score": 3} (details below).`, true, 3},
		{"no json", "the contract looks acceptable overall", false, 0},
		{"wrong shape", `{"foo": 1}`, false, 0},
		{"array payload", `[1, 2, 3]`, false, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sa, ok := ParseStructured(tc.text)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.risk, sa.RiskScore)
			}
		})
	}

	sa, ok := ParseStructured(plain)
	require.True(t, ok)
	assert.Equal(t, "tight deadlines", sa.Summary)
	assert.Equal(t, []string{"a"}, sa.KeyIssues)
	assert.Equal(t, []string{"b"}, sa.Recommendations)
	assert.NotEmpty(t, sa.Raw)
}

func TestRankItems(t *testing.T) {
	lists := [][]string{
		{"Apple", "banana"},
		{"APPLE!", "Cherry"},
		{"apple", "cherry"},
	}
	got := rankItems(lists, 10)
	assert.Equal(t, []string{"Apple", "Cherry", "banana"}, got)

	assert.Len(t, rankItems(lists, 2), 2)
	assert.Empty(t, rankItems(nil, 10))
	assert.Equal(t, []string{"tied first", "tied second"},
		rankItems([][]string{{"tied first", "tied second"}}, 10),
		"ties keep first-seen order")
}
