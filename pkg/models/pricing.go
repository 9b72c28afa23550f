package models

import "strings"

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k"`
}

// DefaultPricing lists per-1K USD costs for the models the stock provider set
// serves. Config pricing entries extend and override this table.
var DefaultPricing = []ModelPricing{
	{Model: "gpt-4o", PromptCost: 0.0025, CompletionCost: 0.01},
	{Model: "gpt-4o-mini", PromptCost: 0.00015, CompletionCost: 0.0006},
	{Model: "gpt-4.1", PromptCost: 0.002, CompletionCost: 0.008},
	{Model: "claude-sonnet-4", PromptCost: 0.003, CompletionCost: 0.015},
	{Model: "claude-3-5-haiku", PromptCost: 0.0008, CompletionCost: 0.004},
	{Model: "gemini-2.0-flash", PromptCost: 0.0001, CompletionCost: 0.0004},
	{Model: "gemini-1.5-pro", PromptCost: 0.00125, CompletionCost: 0.005},
}

// PricingFor returns the pricing row for model, preferring an exact match and
// falling back to the longest matching prefix. The second return is false
// when the model is unknown.
func PricingFor(model string, extra []ModelPricing) (ModelPricing, bool) {
	var best ModelPricing
	bestLen := -1
	for _, table := range [][]ModelPricing{extra, DefaultPricing} {
		for _, p := range table {
			if p.Model == model {
				return p, true
			}
			if strings.HasPrefix(model, p.Model) && len(p.Model) > bestLen {
				best, bestLen = p, len(p.Model)
			}
		}
	}
	return best, bestLen >= 0
}

// Cost estimates the USD cost of usage under this pricing.
func (p ModelPricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptCost +
		float64(u.CompletionTokens)/1000*p.CompletionCost
}

// EstimateTokens approximates a token count for text when a provider omitted
// usage data. Four characters per token is close enough for cost estimates.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// CostReport is an aggregated cost row grouped by provider and model.
type CostReport struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	RequestCount     int     `json:"request_count"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}
