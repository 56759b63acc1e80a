package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  string
}

// FrameDecoder splits a byte stream into SSE frames. Network chunks may end
// mid-frame; the remainder is buffered until the blank line that terminates
// the frame arrives.
type FrameDecoder struct {
	buf []byte
}

var (
	crlf       = []byte("\r\n")
	lf         = []byte("\n")
	frameBreak = []byte("\n\n")
)

// Decode appends chunk and returns every frame completed by it.
func (d *FrameDecoder) Decode(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)
	// A trailing '\r' stays buffered, so a CRLF split across chunks is
	// joined here on the next call.
	d.buf = bytes.ReplaceAll(d.buf, crlf, lf)

	var frames []Frame
	for {
		idx := bytes.Index(d.buf, frameBreak)
		if idx < 0 {
			break
		}
		raw := string(d.buf[:idx])
		d.buf = d.buf[idx+len(frameBreak):]

		if f, ok := parseFrame(raw); ok {
			frames = append(frames, f)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Pending reports whether a partial frame is buffered.
func (d *FrameDecoder) Pending() bool {
	return len(d.buf) > 0
}

func parseFrame(raw string) (Frame, bool) {
	var f Frame
	var data []string
	for _, line := range strings.Split(raw, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if f.Event == "" && len(data) == 0 {
		return f, false
	}
	f.Data = strings.Join(data, "\n")
	return f, true
}

// frameParser turns one frame into a text chunk. done ends the stream.
// A parse error skips the frame.
type frameParser func(f Frame) (text string, done bool, err error)

// pumpFrames reads body until EOF, a terminal frame, a read error or ctx
// cancellation, sending each non-empty chunk on the returned channel.
func pumpFrames(ctx context.Context, name string, body io.ReadCloser, parse frameParser) <-chan string {
	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		var dec FrameDecoder
		buf := make([]byte, 4096)
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				for _, f := range dec.Decode(buf[:n]) {
					text, done, err := parse(f)
					if err != nil {
						continue
					}
					if text != "" {
						select {
						case ch <- text:
						case <-ctx.Done():
							return
						}
					}
					if done {
						return
					}
				}
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) && ctx.Err() == nil {
					log.Printf("%s stream ended: %v", name, readErr)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return ch
}
