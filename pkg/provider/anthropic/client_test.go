package anthropic

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "sk-ant-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Error("expected x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("expected anthropic-version header")
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.MaxTokens <= 0 {
			t.Error("max_tokens is required and must be set")
		}
		if req.System != "be precise" {
			t.Errorf("expected system prompt, got %q", req.System)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_1",
			"model": "claude-sonnet-4-0",
			"content": []map[string]string{
				{"type": "text", "text": "first "},
				{"type": "text", "text": "second"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 9, "output_tokens": 4},
		})
	})

	resp, err := c.Generate(t.Context(), &models.GenerationRequest{
		Prompt: "summarize",
		System: "be precise",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "first second" {
		t.Errorf("expected concatenated text blocks, got %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("expected total 13, got %d", resp.Usage.TotalTokens)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("unexpected provider %q", resp.Provider)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("unexpected finish reason %q", resp.FinishReason)
	}
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Error("expected x-api-key header on connection test")
		}
		w.Write([]byte(`{"data":[]}`))
	})

	if err := c.TestConnection(t.Context()); err != nil {
		t.Fatal(err)
	}
}
