package chatsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"invoicing-backend/internal/models"
)

// HTTPStreamer posts turns to the backend chat endpoint and streams the raw
// text reply.
type HTTPStreamer struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPStreamer(baseURL, token string) *HTTPStreamer {
	return &HTTPStreamer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{},
	}
}

func (h *HTTPStreamer) StreamChat(ctx context.Context, req models.ChatRequest) (<-chan string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/v1/ai/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if h.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		var carry []byte
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				cut := completeRunes(data)
				carry = append([]byte(nil), data[cut:]...)
				if cut > 0 {
					select {
					case ch <- string(data[:cut]):
					case <-ctx.Done():
						return
					}
				}
			}
			if readErr != nil {
				return
			}
		}
	}()
	return ch, nil
}

// completeRunes returns the length of the longest prefix of b that does not
// end inside a multi-byte rune.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope models.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("chat request failed (%d %s): %s", resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("chat request failed with status %d", resp.StatusCode)
}
