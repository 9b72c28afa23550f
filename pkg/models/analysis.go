package models

import (
	"encoding/json"
	"time"
)

// StructuredAnalysis is the parsed payload of a model response that emitted
// the JSON shape our analysis prompts ask for.
type StructuredAnalysis struct {
	RiskScore       float64         `json:"risk_score"`
	Summary         string          `json:"summary,omitempty"`
	KeyIssues       []string        `json:"key_issues,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// AnalysisResult is a tagged variant: exactly one of Structured or RawText is
// set. Structured carries an aggregated analysis; RawText carries synthesized
// prose when no structured form was available.
type AnalysisResult struct {
	Structured *StructuredAnalysis `json:"structured,omitempty"`
	RawText    string              `json:"raw_text,omitempty"`
}

// Kind reports which variant is populated: "structured" or "raw_text".
func (r AnalysisResult) Kind() string {
	if r.Structured != nil {
		return "structured"
	}
	return "raw_text"
}

// ConsensusResult aggregates responses from multiple providers for one
// analysis request. CacheHitType is empty for freshly computed results and
// carries the content-cache hit kind otherwise.
type ConsensusResult struct {
	Responses         []NormalizedResponse `json:"responses"`
	Aggregated        AnalysisResult       `json:"aggregated"`
	ProvidersUsed     []string             `json:"providers_used"`
	TotalProviders    int                  `json:"total_providers"`
	ProviderAgreement float64              `json:"provider_agreement"`
	Confidence        float64              `json:"confidence"`
	TotalTokens       int                  `json:"total_tokens"`
	AvgProcessingMS   int64                `json:"avg_processing_ms"`
	CacheHitType      string               `json:"cache_hit_type,omitempty"`
	CacheScore        float64              `json:"cache_score,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}
