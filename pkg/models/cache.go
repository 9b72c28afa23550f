package models

// Content cache hit kinds reported by lookups.
const (
	CacheHitExact   = "exact"
	CacheHitSimilar = "similar"
)

// CacheStats reports response cache performance metrics.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// CacheOpUsage is the rolling per-operation write tally kept in the store
// under its own 24h TTL: entries written and bytes stored.
type CacheOpUsage struct {
	TotalCached int64 `json:"total_cached"`
	TotalSize   int64 `json:"total_size"`
}

// ContentCacheStats reports content cache performance metrics. The counters
// are process-local; Entries, KeysByOperation and Usage come from the store
// and survive restarts.
type ContentCacheStats struct {
	Hits            int64                   `json:"hits"`
	SimilarHits     int64                   `json:"similar_hits"`
	Misses          int64                   `json:"misses"`
	Puts            int64                   `json:"puts"`
	Skips           int64                   `json:"skips"`
	Errors          int64                   `json:"errors"`
	Entries         int64                   `json:"entries"`
	KeysByOperation map[string]int64        `json:"keys_by_operation,omitempty"`
	Usage           map[string]CacheOpUsage `json:"usage,omitempty"`
}
