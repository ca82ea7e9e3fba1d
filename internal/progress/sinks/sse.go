package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/JakeFAU/sitegraph/internal/progress"
)

// SSEContentType is the media type of the stream.
const SSEContentType = "text/event-stream"

// SSESink writes each event as a server-sent event and flushes it.
type SSESink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

var _ progress.Sink = (*SSESink)(nil)

// NewSSESink wraps w. When w is an http.ResponseWriter the stream headers
// are set before the first write.
func NewSSESink(w io.Writer) *SSESink {
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", SSEContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
	}
	flusher, _ := w.(http.Flusher)
	return &SSESink{w: w, flusher: flusher}
}

// Consume writes `event: <name>\ndata: <json>\n\n` per event.
func (s *SSESink) Consume(ctx context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sse write: %w", err)
		}
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", evt.Name, err)
		}
		if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", evt.Name, data); err != nil {
			return fmt.Errorf("write %s event: %w", evt.Name, err)
		}
		if s.flusher != nil {
			s.flusher.Flush()
		}
	}
	return nil
}

// Close implements progress.Sink; the underlying writer belongs to the caller.
func (s *SSESink) Close(context.Context) error {
	return nil
}
