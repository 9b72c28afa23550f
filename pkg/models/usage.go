package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord tracks one orchestrated request for metering and quotas.
type UsageRecord struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	OperationType    string    `json:"operation_type,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMS        int64     `json:"latency_ms"`
	CacheHit         bool      `json:"cache_hit"`
	Consensus        bool      `json:"consensus"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates usage records along one grouping dimension.
type UsageSummary struct {
	Provider        string  `json:"provider,omitempty"`
	Model           string  `json:"model,omitempty"`
	OperationType   string  `json:"operation_type,omitempty"`
	RequestCount    int     `json:"request_count"`
	TotalPrompt     int64   `json:"total_prompt"`
	TotalCompletion int64   `json:"total_completion"`
	TotalTokens     int64   `json:"total_tokens"`
	EstimatedCost   float64 `json:"estimated_cost"`
	CacheHits       int     `json:"cache_hits"`
	Failures        int     `json:"failures"`
}
