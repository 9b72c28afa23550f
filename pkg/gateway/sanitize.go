package gateway

import (
	"regexp"
	"strings"
)

// MaxPromptRunes caps prompt length after sanitization. Anything longer is
// truncated, not rejected; legal documents routinely blow past any limit and
// the leading text is the part worth analyzing.
const MaxPromptRunes = 50000

// injectionRe matches the script-injection markers we refuse to forward to
// any provider. Matching is case-insensitive; the markers are removed, the
// surrounding text is kept.
var injectionRe = regexp.MustCompile(`(?i)<script|</script|javascript:|eval\(`)

// SanitizePrompt trims, strips injection markers, and truncates the prompt.
// A prompt that ends up empty is a *ValidationError: there is nothing left
// worth spending provider tokens on.
func SanitizePrompt(prompt string) (string, error) {
	s := strings.TrimSpace(prompt)
	s = injectionRe.ReplaceAllString(s, "")
	if runes := []rune(s); len(runes) > MaxPromptRunes {
		s = string(runes[:MaxPromptRunes])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: "prompt", Reason: "empty after sanitization"}
	}
	return s, nil
}
