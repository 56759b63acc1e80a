package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"invoicing-backend/internal/models"
)

const defaultMaxTokens = 2000

// Provider is a chat-completion backend. Messages carry the conversation in
// order; the system prompt is passed separately and placed by each backend
// the way its API expects.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (string, error)
	// Stream returns a channel of text chunks. The channel is closed when the
	// stream ends, fails, or ctx is cancelled.
	Stream(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (<-chan string, error)
}

type Options struct {
	MaxTokens int
	Model     string
}

func (o Options) maxTokens(fallback int) int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	if fallback > 0 {
		return fallback
	}
	return defaultMaxTokens
}

func (o Options) model(fallback string) string {
	if o.Model != "" {
		return o.Model
	}
	return fallback
}

// Config selects and configures a backend.
type Config struct {
	Provider   string // "openrouter", "anthropic" or "gemini"
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// ConfigError reports a provider that cannot be constructed from its config.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// New builds the configured backend. It performs no network I/O.
func New(ctx context.Context, cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch name {
	case "openrouter", "anthropic", "gemini":
	case "":
		return nil, &ConfigError{Message: "AI provider is not configured"}
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown AI provider: %s", cfg.Provider)}
	}

	if cfg.APIKey == "" {
		return nil, &ConfigError{Message: fmt.Sprintf("AI provider key missing for %s", name)}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}

	switch name {
	case "openrouter":
		return NewOpenRouterProvider(cfg, client), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, client), nil
	default:
		return NewGeminiProvider(ctx, cfg)
	}
}

// newHTTPClient bounds the wait for response headers only; streamed bodies
// may stay open for as long as the model keeps writing.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 60 * time.Second
	transport.MaxIdleConnsPerHost = 10
	return &http.Client{Transport: transport}
}
