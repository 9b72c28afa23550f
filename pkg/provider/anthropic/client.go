// Package anthropic implements the provider adapter for the Anthropic
// messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-0"
	defaultVersion   = "2023-06-01"
	defaultTimeout   = 90 * time.Second
	defaultMaxTokens = 4096
)

// Config holds adapter settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Version string
	Timeout time.Duration
}

// Client is the Anthropic adapter.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	version    string
	httpClient *http.Client
}

var _ provider.Provider = (*Client)(nil)

// New creates the adapter; a missing API key is a configuration error.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key not configured")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		version:    version,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider id.
func (c *Client) Name() string {
	return "anthropic"
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate performs one messages call and normalizes the result.
func (c *Client) Generate(ctx context.Context, req *models.GenerationRequest) (*models.NormalizedResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload, err := json.Marshal(messagesRequest{
		Model:       model,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, &provider.Error{Provider: c.Name(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &provider.Error{Provider: c.Name(), Err: err}
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.version)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	raw, err := provider.Do(c.httpClient, c.Name(), httpReq)
	if err != nil {
		return nil, err
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &provider.Error{Provider: c.Name(), Retryable: true, Message: "malformed response", Err: err}
	}
	if len(parsed.Content) == 0 {
		return nil, &provider.Error{Provider: c.Name(), Retryable: true, Message: "response contained no content blocks"}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()

	usage := models.Usage{}
	if parsed.Usage != nil {
		usage = models.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
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
		Provider:     c.Name(),
		Model:        respModel,
		Usage:        usage,
		LatencyMS:    time.Since(start).Milliseconds(),
		FinishReason: parsed.StopReason,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// TestConnection lists models with the same credentials Generate uses.
func (c *Client) TestConnection(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return &provider.Error{Provider: c.Name(), Err: err}
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.version)

	_, err = provider.Do(c.httpClient, c.Name(), httpReq)
	return err
}
