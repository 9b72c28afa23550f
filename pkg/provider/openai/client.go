// Package openai implements the provider adapter for the OpenAI chat
// completions API. Vendors exposing the same wire shape (Groq, Together,
// local gateways) reuse it by overriding BaseURL and Name.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/provider"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o"
	defaultTimeout = 90 * time.Second
)

// Config holds adapter settings. Name defaults to "openai"; compatible
// vendors set their own so breakers and metrics stay per-backend.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client is the OpenAI adapter.
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ provider.Provider = (*Client)(nil)

// New creates the adapter. A missing API key is a configuration error so the
// registry never holds an unusable provider.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key not configured")
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider id this adapter registered under.
func (c *Client) Name() string {
	return c.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs one chat completion and normalizes the result.
func (c *Client) Generate(ctx context.Context, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &provider.Error{Provider: c.name, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.Error{Provider: c.name, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	raw, err := provider.Do(c.httpClient, c.name, httpReq)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &provider.Error{Provider: c.name, Retryable: true, Message: "malformed response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &provider.Error{Provider: c.name, Retryable: true, Message: "response contained no choices"}
	}

	text := parsed.Choices[0].Message.Content
	usage := models.Usage{}
	if parsed.Usage != nil {
		usage = models.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	} else {
		usage.PromptTokens = models.EstimateTokens(req.Prompt)
		usage.CompletionTokens = models.EstimateTokens(text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	respModel := parsed.Model
	if respModel == "" {
		respModel = model
	}
	return &models.NormalizedResponse{
		ID:           uuid.NewString(),
		Text:         text,
		Provider:     c.name,
		Model:        respModel,
		Usage:        usage,
		LatencyMS:    time.Since(start).Milliseconds(),
		FinishReason: parsed.Choices[0].FinishReason,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// TestConnection lists models, the cheapest authenticated call the API has.
func (c *Client) TestConnection(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return &provider.Error{Provider: c.name, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	_, err = provider.Do(c.httpClient, c.name, httpReq)
	return err
}
