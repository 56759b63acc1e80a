package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"invoicing-backend/internal/models"
)

const (
	defaultAnthropicURL     = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultAnthropicVersion = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

func NewAnthropicProvider(cfg Config, client *http.Client) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		apiKey:    cfg.APIKey,
		model:     model,
		baseURL:   baseURL,
		maxTokens: cfg.MaxTokens,
		client:    client,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (p *AnthropicProvider) request(messages []models.ChatMessage, systemPrompt string, opts Options, stream bool) ([]byte, error) {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     opts.model(p.model),
		System:    systemPrompt,
		Messages:  out,
		MaxTokens: opts.maxTokens(p.maxTokens),
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": defaultAnthropicVersion,
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (string, error) {
	body, err := p.request(messages, systemPrompt, opts, false)
	if err != nil {
		return "", err
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return text.String(), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (<-chan string, error) {
	body, err := p.request(messages, systemPrompt, opts, true)
	if err != nil {
		return nil, err
	}

	resp, err := doStreamRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		return nil, err
	}
	return pumpFrames(ctx, p.Name(), resp.Body, parseAnthropicFrame), nil
}

func parseAnthropicFrame(f Frame) (string, bool, error) {
	if f.Event == "message_stop" {
		return "", true, nil
	}
	var ev anthropicStreamEvent
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		return "", false, err
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "" || ev.Delta.Type == "text_delta" {
			return ev.Delta.Text, false, nil
		}
	case "message_stop":
		return "", true, nil
	}
	return "", false, nil
}
