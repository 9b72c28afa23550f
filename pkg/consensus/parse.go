package consensus

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

// ParseStructured extracts the analysis JSON a model emitted, tolerating
// markdown fences and prose around the payload. It reports false for
// responses that carry no recognizable analysis object; those participate in
// consensus as raw text.
func ParseStructured(text string) (*models.StructuredAnalysis, bool) {
	raw := extractJSON(text)
	if raw == "" || !gjson.Valid(raw) {
		return nil, false
	}

	root := gjson.Parse(raw)
	if !root.IsObject() {
		return nil, false
	}

	rs := root.Get("risk_score")
	summary := root.Get("summary")
	issues := root.Get("key_issues")
	recs := root.Get("recommendations")
	if !rs.Exists() && !summary.Exists() && !issues.Exists() && !recs.Exists() {
		return nil, false
	}

	sa := &models.StructuredAnalysis{
		RiskScore: rs.Float(),
		Summary:   strings.TrimSpace(summary.String()),
		Raw:       json.RawMessage(raw),
	}
	for _, v := range issues.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			sa.KeyIssues = append(sa.KeyIssues, s)
		}
	}
	for _, v := range recs.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			sa.Recommendations = append(sa.Recommendations, s)
		}
	}
	return sa, true
}

// extractJSON returns the outermost JSON object in text. Fenced blocks win
// over bare braces so prose mentioning "{" does not confuse the parser.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// normalizeItem reduces a list entry to a comparison key: lowercase, letters
// and digits only, single spaces.
func normalizeItem(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
