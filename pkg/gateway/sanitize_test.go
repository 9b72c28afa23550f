package gateway

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizePrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"trims whitespace", "  review the lease agreement  ", "review the lease agreement"},
		{"strips script tag", "Check <script>alert(1)</script> clause", "Check >alert(1)> clause"},
		{"strips mixed case", "Check <SCRIPT>alert(1)</ScRiPt> clause", "Check >alert(1)> clause"},
		{"strips javascript scheme", "See javascript:void(0) for details", "See void(0) for details"},
		{"strips JavaScript scheme", "See JavaScript:void(0) for details", "See void(0) for details"},
		{"strips eval call", "Run eval(payload) before signing", "Run payload) before signing"},
		{"keeps clean text", "What are the termination provisions?", "What are the termination provisions?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePrompt(tt.prompt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizePromptTruncates(t *testing.T) {
	long := strings.Repeat("a", MaxPromptRunes+100)
	got, err := SanitizePrompt(long)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len([]rune(got)); n != MaxPromptRunes {
		t.Errorf("expected %d runes, got %d", MaxPromptRunes, n)
	}

	// Truncation counts runes, not bytes.
	wide, err := SanitizePrompt(strings.Repeat("§", MaxPromptRunes+1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len([]rune(wide)); n != MaxPromptRunes {
		t.Errorf("expected %d runes for multibyte input, got %d", MaxPromptRunes, n)
	}
}

func TestSanitizePromptRejectsEmpty(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\n\t", "<script", "  javascript:  "} {
		_, err := SanitizePrompt(prompt)
		if err == nil {
			t.Errorf("prompt %q: expected error", prompt)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("prompt %q: expected ValidationError, got %T", prompt, err)
			continue
		}
		if verr.Field != "prompt" {
			t.Errorf("prompt %q: expected field %q, got %q", prompt, "prompt", verr.Field)
		}
	}
}
