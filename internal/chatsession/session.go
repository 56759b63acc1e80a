// Package chatsession keeps the client-side state of one assistant
// conversation: ordered history, the in-flight turn, and streaming into the
// assistant's reply.
package chatsession

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"invoicing-backend/internal/models"
)

// ErrInterrupted is returned by Send when a newer turn, Cancel or Reset
// ended the turn before its stream finished.
var ErrInterrupted = errors.New("chat turn interrupted")

// Streamer delivers one chat turn as a stream of text chunks.
type Streamer interface {
	StreamChat(ctx context.Context, req models.ChatRequest) (<-chan string, error)
}

type Session struct {
	streamer Streamer
	now      func() time.Time

	mu       sync.Mutex
	messages []models.ChatMessage
	cancel   context.CancelFunc
	turn     uint64
	loading  bool
}

func New(streamer Streamer) *Session {
	return &Session{streamer: streamer, now: time.Now}
}

// Send runs one turn and blocks until its stream ends. Blank input is
// ignored. A turn still in flight is cancelled first; only the newest turn
// may write into the history.
func (s *Session) Send(ctx context.Context, content string, chatCtx *models.ChatContext, onChunk func(string)) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.turn++
	turn := s.turn
	s.cancel = cancel
	history := s.historyLocked()
	ts := s.now().UnixMilli()
	s.messages = append(s.messages,
		models.ChatMessage{Role: models.RoleUser, Content: content, Timestamp: ts},
		models.ChatMessage{Role: models.RoleAssistant, Content: "", Timestamp: ts},
	)
	s.loading = true
	s.mu.Unlock()

	defer s.finish(turn)

	ch, err := s.streamer.StreamChat(turnCtx, models.ChatRequest{
		Message:             content,
		ConversationHistory: history,
		Context:             chatCtx,
	})
	if err != nil {
		if turnCtx.Err() != nil && ctx.Err() == nil {
			return ErrInterrupted
		}
		return err
	}

	for chunk := range ch {
		if !s.appendChunk(turn, chunk) {
			return ErrInterrupted
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	if turnCtx.Err() != nil && ctx.Err() == nil {
		return ErrInterrupted
	}
	return ctx.Err()
}

// historyLocked returns the prior conversation, skipping replies that never
// received any text.
func (s *Session) historyLocked() []models.ChatMessage {
	history := make([]models.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role == models.RoleAssistant && m.Content == "" {
			continue
		}
		history = append(history, m)
	}
	return history
}

// appendChunk adds chunk to the last assistant message if turn is current.
func (s *Session) appendChunk(turn uint64, chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn != s.turn {
		return false
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == models.RoleAssistant {
			s.messages[i].Content += chunk
			return true
		}
	}
	return false
}

func (s *Session) finish(turn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn == s.turn {
		s.loading = false
		s.cancel = nil
	}
}

// Cancel stops the in-flight turn, keeping whatever text already arrived.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Reset cancels the in-flight turn and clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.messages = nil
}

func (s *Session) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.turn++
	s.loading = false
}

// Messages returns a copy of the history.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}
