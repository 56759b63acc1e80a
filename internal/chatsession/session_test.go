package chatsession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"invoicing-backend/internal/models"
)

type call struct {
	ctx context.Context
	req models.ChatRequest
	ch  chan string
}

// stubStreamer hands each turn's channel to the test.
type stubStreamer struct {
	mu    sync.Mutex
	calls []*call
	next  chan *call
	err   error
}

func newStubStreamer() *stubStreamer {
	return &stubStreamer{next: make(chan *call, 4)}
}

func (s *stubStreamer) StreamChat(ctx context.Context, req models.ChatRequest) (<-chan string, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := &call{ctx: ctx, req: req, ch: make(chan string)}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	s.next <- c
	return c.ch, nil
}

func (s *stubStreamer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func waitCall(t *testing.T, s *stubStreamer) *call {
	t.Helper()
	select {
	case c := <-s.next:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("streamer was not called")
		return nil
	}
}

func TestSend_IgnoresBlankInput(t *testing.T) {
	streamer := newStubStreamer()
	s := New(streamer)

	if err := s.Send(context.Background(), "   \n\t", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamer.callCount() != 0 || len(s.Messages()) != 0 {
		t.Fatalf("expected blank input to be a no-op")
	}
}

func TestSend_AssemblesChunks(t *testing.T) {
	streamer := newStubStreamer()
	s := New(streamer)

	var chunks []string
	done := make(chan error, 1)
	go func() {
		done <- s.Send(context.Background(), " show overdue invoices ", &models.ChatContext{Page: models.PageDashboard}, func(c string) {
			chunks = append(chunks, c)
		})
	}()

	c := waitCall(t, streamer)
	if c.req.Message != "show overdue invoices" || len(c.req.ConversationHistory) != 0 {
		t.Fatalf("unexpected first request: %+v", c.req)
	}
	if !s.Loading() {
		t.Fatalf("expected loading during the turn")
	}
	c.ch <- "You have "
	c.ch <- "2 overdue."
	close(c.ch)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Loading() {
		t.Fatalf("expected loading to clear")
	}
	if strings.Join(chunks, "") != "You have 2 overdue." {
		t.Fatalf("unexpected chunks %q", chunks)
	}

	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Content != "You have 2 overdue." {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	// The next turn sends the previous turn as history.
	go func() { done <- s.Send(context.Background(), "thanks", nil, nil) }()
	c = waitCall(t, streamer)
	if len(c.req.ConversationHistory) != 2 || c.req.ConversationHistory[1].Role != models.RoleAssistant {
		t.Fatalf("expected prior turn as history, got %+v", c.req.ConversationHistory)
	}
	close(c.ch)
	<-done
}

func TestSend_LastRequestWins(t *testing.T) {
	streamer := newStubStreamer()
	s := New(streamer)

	first := make(chan error, 1)
	go func() { first <- s.Send(context.Background(), "first", nil, nil) }()
	c1 := waitCall(t, streamer)

	second := make(chan error, 1)
	go func() { second <- s.Send(context.Background(), "second", nil, nil) }()
	c2 := waitCall(t, streamer)

	if c1.ctx.Err() == nil {
		t.Fatalf("expected the first turn to be cancelled")
	}
	if len(c2.req.ConversationHistory) != 1 || c2.req.ConversationHistory[0].Content != "first" {
		t.Fatalf("expected empty placeholder to be left out of history, got %+v", c2.req.ConversationHistory)
	}

	c2.ch <- "fresh"
	close(c2.ch)
	if err := <-second; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A late chunk from the stale turn is discarded.
	select {
	case c1.ch <- "stale":
	case <-time.After(2 * time.Second):
		t.Fatalf("stale turn stopped reading")
	}
	if err := <-first; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected two turns, got %+v", msgs)
	}
	if msgs[1].Content != "" || msgs[3].Content != "fresh" {
		t.Fatalf("stale chunk leaked into history: %+v", msgs)
	}
}

func TestReset(t *testing.T) {
	streamer := newStubStreamer()
	s := New(streamer)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hello", nil, nil) }()
	c := waitCall(t, streamer)

	s.Reset()
	if c.ctx.Err() == nil {
		t.Fatalf("expected reset to cancel the turn")
	}
	if len(s.Messages()) != 0 || s.Loading() {
		t.Fatalf("expected empty idle session after reset")
	}

	c.ch <- "late"
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("expected late chunk to be dropped")
	}
}

func TestSend_StreamerError(t *testing.T) {
	streamer := newStubStreamer()
	streamer.err = errors.New("connection refused")
	s := New(streamer)

	if err := s.Send(context.Background(), "hi", nil, nil); err == nil {
		t.Fatalf("expected error")
	}
	if s.Loading() {
		t.Fatalf("expected loading to clear after failure")
	}
}

func TestHTTPStreamer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ai/chat" || r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req models.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("echo: " + req.Message))
		w.(http.Flusher).Flush()
		// Split a multi-byte rune across writes.
		w.Write([]byte{0xE2, 0x82})
		w.(http.Flusher).Flush()
		w.Write([]byte{0xAC})
	}))
	defer srv.Close()

	h := NewHTTPStreamer(srv.URL+"/", "tok")
	ch, err := h.StreamChat(context.Background(), models.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got strings.Builder
	for c := range ch {
		got.WriteString(c)
	}
	if got.String() != "echo: hi€" {
		t.Fatalf("unexpected body %q", got.String())
	}
}

func TestHTTPStreamer_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Too many requests. Please try again later."}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPStreamer(srv.URL, "tok").StreamChat(context.Background(), models.ChatRequest{Message: "hi"})
	if err == nil || !strings.Contains(err.Error(), "RATE_LIMITED") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestCompleteRunes(t *testing.T) {
	euro := []byte("€")
	if n := completeRunes(euro[:2]); n != 0 {
		t.Fatalf("expected partial rune to be held back, got %d", n)
	}
	if n := completeRunes(append([]byte("ab"), euro...)); n != 5 {
		t.Fatalf("expected full length, got %d", n)
	}
}
