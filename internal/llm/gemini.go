package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"invoicing-backend/internal/models"
)

const defaultGeminiModel = "gemini-3-flash-preview"

// GeminiProvider uses the Gemini SDK. A model handle is built per call since
// the system instruction and token limit vary by request.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model, maxTokens: cfg.MaxTokens}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// session prepares a chat whose history is every message but the last; the
// last message is returned as the prompt to send.
func (p *GeminiProvider) session(messages []models.ChatMessage, systemPrompt string, opts Options) (*genai.ChatSession, genai.Text, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("gemini: no messages to send")
	}

	m := p.client.GenerativeModel(opts.model(p.model))
	m.SetMaxOutputTokens(int32(opts.maxTokens(p.maxTokens)))
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	cs := m.StartChat()
	cs.History = toGeminiHistory(messages[:len(messages)-1])
	return cs, genai.Text(messages[len(messages)-1].Content), nil
}

func toGeminiHistory(messages []models.ChatMessage) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history
}

func (p *GeminiProvider) Complete(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (string, error) {
	cs, prompt, err := p.session(messages, systemPrompt, opts)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return extractText(resp), nil
}

func (p *GeminiProvider) Stream(ctx context.Context, messages []models.ChatMessage, systemPrompt string, opts Options) (<-chan string, error) {
	cs, prompt, err := p.session(messages, systemPrompt, opts)
	if err != nil {
		return nil, err
	}

	iter := cs.SendMessageStream(ctx, prompt)
	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("gemini stream ended: %v", err)
				}
				return
			}
			text := extractText(resp)
			if text == "" {
				continue
			}
			select {
			case ch <- text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
