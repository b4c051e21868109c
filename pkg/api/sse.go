package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/viacanvas/intelligence/pkg/stream"
)

// sseSink writes wire events as Server-Sent Events. The stream Processor
// serializes Send calls, so the sink needs no locking of its own.
type sseSink struct {
	w http.ResponseWriter
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w}
}

// Send writes one `event:`/`data:` pair and flushes so the client sees
// the event immediately. A write error means the client is gone.
func (s *sseSink) Send(ctx context.Context, ev stream.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		// Flatten guarantees marshalable payloads; this is a bug guard.
		return fmt.Errorf("marshaling %s payload: %w", ev.Kind, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// flush pushes buffered bytes to the client. Both flusher shapes are
// tolerated because response wrappers differ on the Flush signature.
func (s *sseSink) flush() {
	switch f := any(s.w).(type) {
	case interface{ FlushError() error }:
		_ = f.FlushError()
	case http.Flusher:
		f.Flush()
	case interface{ Flush() error }:
		_ = f.Flush()
	}
}

// sseHeaders prepares a response for event streaming.
func sseHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
