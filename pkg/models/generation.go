package models

import "time"

// Operation types understood by the orchestration layer. They select the
// content-cache profile and the prompt framing used for a request.
const (
	OpContractAnalysis   = "contract_analysis"
	OpLegalResearch      = "legal_research"
	OpDocumentGeneration = "document_generation"
	OpDocumentSummary    = "document_summary"
	OpComplianceCheck    = "compliance_check"
	OpCasePrediction     = "case_prediction"
)

// GenerationRequest is a provider-agnostic request from a business service.
// NoCache bypasses the response cache for this request only; RetryCount
// overrides the configured per-provider attempt count when positive.
// Consensus selects multi-provider analysis; MinProviders raises its quorum.
type GenerationRequest struct {
	Prompt        string            `json:"prompt"`
	System        string            `json:"system,omitempty"`
	OperationType string            `json:"operation_type,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Model         string            `json:"model,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	NoCache       bool              `json:"no_cache,omitempty"`
	RetryCount    int               `json:"retry_count,omitempty"`
	Consensus     bool              `json:"consensus,omitempty"`
	MinProviders  int               `json:"min_providers,omitempty"`
}

// NormalizedResponse is the uniform response shape returned for every
// provider, cache hit, and static fallback.
type NormalizedResponse struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Usage        Usage     `json:"usage"`
	CostEstimate float64   `json:"cost_estimate"`
	LatencyMS    int64     `json:"latency_ms"`
	Attempts     int       `json:"attempts"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Cached       bool      `json:"cached"`
	CreatedAt    time.Time `json:"created_at"`
}
