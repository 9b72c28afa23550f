package redis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// ISO dates, US-style slashed dates, and written-out month dates.
	dateRe = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b|\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`)

	// Currency-symbol and currency-word amounts.
	amountRe = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand|[mk]))?\b|\b\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|gbp|dollars?|euros?|pounds?)\b`)
)

// maskedOps lists the operation types whose cached content should hash the
// same across documents differing only in dates and amounts. Research
// queries and generation prompts keep their literals: there the specifics
// are the point.
var maskedOps = map[string]bool{
	models.OpContractAnalysis: true,
	models.OpDocumentSummary:  true,
	models.OpComplianceCheck:  true,
	models.OpCasePrediction:   true,
}

// Normalize canonicalizes content for hashing and fingerprinting: whitespace
// runs collapse to single spaces, the result is trimmed and lowercased, and
// for analysis operations volatile tokens are masked. Normalize is
// idempotent: applying it twice yields the first result.
func Normalize(content, operationType string) string {
	s := whitespaceRe.ReplaceAllString(content, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	if maskedOps[operationType] {
		s = dateRe.ReplaceAllString(s, "<date>")
		s = amountRe.ReplaceAllString(s, "<amount>")
	}
	return s
}

// HashContent returns the truncated SHA-256 of normalized content: 32 hex
// characters, enough to make collisions a non-concern at cache scale while
// keeping keys inspectable.
func HashContent(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// hashParams folds generation parameters into a short key segment. Marshal
// sorts map keys, so the hash is deterministic.
func hashParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	data, _ := json.Marshal(params)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// buildKey assembles the cache key:
// ai_cache:{type}:{hash}[:user:{id}][:params:{hash}].
func buildKey(operationType, contentHash, userID, paramsHash string, profile Profile) string {
	var sb strings.Builder
	sb.WriteString(keyPrefix)
	sb.WriteString(operationType)
	sb.WriteByte(':')
	sb.WriteString(contentHash)
	if profile.CacheByUser && userID != "" {
		sb.WriteString(":user:")
		sb.WriteString(userID)
	}
	if paramsHash != "" {
		sb.WriteString(":params:")
		sb.WriteString(paramsHash)
	}
	return sb.String()
}
