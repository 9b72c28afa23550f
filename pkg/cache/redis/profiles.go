package redis

import (
	"time"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

// Profile tunes the content cache for one operation type. Long-lived shared
// research entries and short-lived per-user drafts need very different
// handling, so every knob is per-operation.
type Profile struct {
	TTL                 time.Duration `yaml:"ttl"`
	MaxContentLength    int           `yaml:"max_content_length"`
	Compress            bool          `yaml:"compress"`
	UseContentHash      bool          `yaml:"use_content_hash"`
	CacheByUser         bool          `yaml:"cache_by_user"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MaxCacheSizeBytes   int           `yaml:"max_cache_size_bytes"`
}

// DefaultProfiles returns the stock per-operation tuning. Config overrides
// merge on top of these.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		models.OpContractAnalysis: {
			TTL:                 24 * time.Hour,
			MaxContentLength:    500_000,
			Compress:            true,
			UseContentHash:      true,
			SimilarityThreshold: 0.92,
			MaxCacheSizeBytes:   5 << 20,
		},
		models.OpLegalResearch: {
			TTL:                 7 * 24 * time.Hour,
			MaxContentLength:    100_000,
			Compress:            true,
			UseContentHash:      true,
			SimilarityThreshold: 0.90,
			MaxCacheSizeBytes:   2 << 20,
		},
		models.OpDocumentGeneration: {
			TTL:                 time.Hour,
			MaxContentLength:    250_000,
			Compress:            true,
			UseContentHash:      true,
			CacheByUser:         true,
			SimilarityThreshold: 0.97,
			MaxCacheSizeBytes:   5 << 20,
		},
		models.OpDocumentSummary: {
			TTL:                 24 * time.Hour,
			MaxContentLength:    500_000,
			Compress:            true,
			UseContentHash:      true,
			SimilarityThreshold: 0.93,
			MaxCacheSizeBytes:   5 << 20,
		},
		models.OpComplianceCheck: {
			TTL:                 12 * time.Hour,
			MaxContentLength:    250_000,
			Compress:            true,
			UseContentHash:      true,
			SimilarityThreshold: 0.95,
			MaxCacheSizeBytes:   2 << 20,
		},
		models.OpCasePrediction: {
			TTL:                 6 * time.Hour,
			MaxContentLength:    100_000,
			UseContentHash:      true,
			CacheByUser:         true,
			SimilarityThreshold: 0.97,
			MaxCacheSizeBytes:   1 << 20,
		},
	}
}

// fallbackProfile covers operation types without explicit tuning:
// short-lived, shared, effectively exact-match only.
var fallbackProfile = Profile{
	TTL:                 time.Hour,
	MaxContentLength:    100_000,
	UseContentHash:      true,
	SimilarityThreshold: 0.95,
	MaxCacheSizeBytes:   1 << 20,
}

// profileFor resolves the profile for an operation type.
func (s *Service) profileFor(operationType string) Profile {
	if p, ok := s.profiles[operationType]; ok {
		return p
	}
	return fallbackProfile
}
