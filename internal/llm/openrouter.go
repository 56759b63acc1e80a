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
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "anthropic/claude-3.5-sonnet"
)

// OpenRouterProvider talks to the OpenAI-compatible chat completions API.
type OpenRouterProvider struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

func NewOpenRouterProvider(cfg Config, client *http.Client) *OpenRouterProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenRouterModel
	}
	return &OpenRouterProvider{
		apiKey:    cfg.APIKey,
		model:     model,
		baseURL:   baseURL,
		maxTokens: cfg.MaxTokens,
		client:    client,
	}
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model     string              `json:"model"`
	Messages  []openRouterMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	MaxTokens int                 `json:"max_tokens"`
}

type openRouterResponse struct {
	Choices []struct {
		Message *openRouterMessage `json:"message,omitempty"`
		Delta   *openRouterMessage `json:"delta,omitempty"`
	} `json:"choices"`
}

// text prefers the streaming delta and falls back to the full message.
func (r openRouterResponse) text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	c := r.Choices[0]
	if c.Delta != nil && c.Delta.Content != "" {
		return c.Delta.Content
	}
	if c.Message != nil {
		return c.Message.Content
	}
	return ""
}

func (p *OpenRouterProvider) request(messages []models.ChatMessage, systemPrompt string, opts Options, stream bool) ([]byte, error) {
	out := make([]openRouterMessage, 0, len(messages)+1)
	out = append(out, openRouterMessage{Role: "system", Content: systemPrompt})
	for _, m := range messages {
		out = append(out, openRouterMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(openRouterRequest{
		Model:     opts.model(p.model),
		Messages:  out,
		Stream:    stream,
		MaxTokens: opts.maxTokens(p.maxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func (p *OpenRouterProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *OpenRouterProvider) Complete(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (string, error) {
	body, err := p.request(messages, systemPrompt, opts, false)
	if err != nil {
		return "", err
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		return "", err
	}

	var resp openRouterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.text(), nil
}

func (p *OpenRouterProvider) Stream(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (<-chan string, error) {
	body, err := p.request(messages, systemPrompt, opts, true)
	if err != nil {
		return nil, err
	}

	resp, err := doStreamRequest(ctx, p.client, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		return nil, err
	}
	return pumpFrames(ctx, p.Name(), resp.Body, parseOpenRouterFrame), nil
}

func parseOpenRouterFrame(f Frame) (string, bool, error) {
	data := strings.TrimSpace(f.Data)
	if data == "[DONE]" {
		return "", true, nil
	}
	var resp openRouterResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return "", false, err
	}
	return resp.text(), false, nil
}
