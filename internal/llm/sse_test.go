package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestFrameDecoder_BuffersPartialFrames(t *testing.T) {
	var dec FrameDecoder

	if frames := dec.Decode([]byte("data: hel")); len(frames) != 0 {
		t.Fatalf("expected no frames from partial chunk, got %d", len(frames))
	}
	if !dec.Pending() {
		t.Fatalf("expected partial frame to be buffered")
	}

	frames := dec.Decode([]byte("lo\n\ndata: world\n\n"))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Data != "hello" || frames[1].Data != "world" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if dec.Pending() {
		t.Fatalf("expected empty buffer")
	}
}

func TestFrameDecoder_CRLF(t *testing.T) {
	var dec FrameDecoder

	if frames := dec.Decode([]byte("event: message_stop\r\ndata: {}\r")); len(frames) != 0 {
		t.Fatalf("expected no frames yet, got %d", len(frames))
	}
	frames := dec.Decode([]byte("\n\r\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Event != "message_stop" || frames[0].Data != "{}" {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
}

func TestFrameDecoder_CommentsAndMultilineData(t *testing.T) {
	var dec FrameDecoder

	frames := dec.Decode([]byte(": keep-alive\n\ndata: a\ndata: b\n\n"))
	if len(frames) != 1 {
		t.Fatalf("expected comment-only frame to be dropped, got %d frames", len(frames))
	}
	if frames[0].Data != "a\nb" {
		t.Fatalf("expected joined data, got %q", frames[0].Data)
	}
}

type chunkedBody struct {
	chunks []string
	err    error
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if b.chunks[0] == "" {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error { return nil }

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		case <-timeout:
			t.Fatalf("stream did not close")
		}
	}
}

func TestPumpFrames_SkipsMalformedAndStopsOnDone(t *testing.T) {
	body := &chunkedBody{chunks: []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n",
		"data: {not json}\n\n",
		`data: {"choices":[{"delta":{"con`,
		`tent":"lo"}}]}` + "\n\n",
		"data: [DONE]\n\n",
		`data: {"choices":[{"delta":{"content":"ignored"}}]}` + "\n\n",
	}}

	got := collect(t, pumpFrames(context.Background(), "test", body, parseOpenRouterFrame))
	if strings.Join(got, "") != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
}

func TestPumpFrames_ReadErrorClosesChannel(t *testing.T) {
	body := &chunkedBody{
		chunks: []string{`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n\n"},
		err:    errors.New("connection reset"),
	}

	got := collect(t, pumpFrames(context.Background(), "test", body, parseOpenRouterFrame))
	if len(got) != 1 || got[0] != "partial" {
		t.Fatalf("expected chunks before the error, got %q", got)
	}
}

func TestPumpFrames_CancelledContext(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	ch := pumpFrames(ctx, "test", pr, parseOpenRouterFrame)
	go pw.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n\n"))
	if s := <-ch; s != "x" {
		t.Fatalf("expected first chunk, got %q", s)
	}

	cancel()
	pw.CloseWithError(context.Canceled)
	collect(t, ch)
}
