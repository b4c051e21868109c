package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/viacanvas/intelligence/pkg/agent"
	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/progress"
	"github.com/viacanvas/intelligence/pkg/services"
	"github.com/viacanvas/intelligence/pkg/session"
)

// fakeResponder scripts one turn: it emits through the emitter via onTurn
// and returns answer/err.
type fakeResponder struct {
	answer string
	err    error
	onTurn func(ctx context.Context, turn *agent.Turn, emit controller.Emitter)

	lastTurn *agent.Turn
}

func (f *fakeResponder) Respond(ctx context.Context, turn *agent.Turn, emit controller.Emitter) (string, error) {
	f.lastTurn = turn
	if f.onTurn != nil {
		f.onTurn(ctx, turn, emit)
	}
	return f.answer, f.err
}

// fakeConverter returns a fixed payload for any stream.
type fakeConverter struct {
	payload *extract.Payload
	err     error

	gotInfo extract.StreamInfo
	gotLen  int
}

func (f *fakeConverter) ConvertStream(_ context.Context, data []byte, info extract.StreamInfo) (*extract.Payload, error) {
	f.gotInfo = info
	f.gotLen = len(data)
	return f.payload, f.err
}

type testEnv struct {
	server    *Server
	sessions  *session.Manager
	responder *fakeResponder
	converter *fakeConverter
	store     *progress.MemoryStore
	events    *bus.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.Default()
	sessions := session.NewManager()
	events := bus.New(logger)
	t.Cleanup(events.Close)
	store := progress.NewMemoryStore()
	responder := &fakeResponder{answer: "done"}
	converter := &fakeConverter{payload: &extract.Payload{
		Title:       "doc",
		Description: "extracted text",
	}}
	ops := services.NewOperationService(store, nil, events, logger)

	server := NewServer(config.DefaultServerConfig(), sessions, responder, ops,
		converter, events, nil, nil, nil, logger)
	return &testEnv{
		server:    server,
		sessions:  sessions,
		responder: responder,
		converter: converter,
		store:     store,
		events:    events,
	}
}

// sseEvent is one parsed `event:`/`data:` pair.
type sseEvent struct {
	Name string
	Data map[string]any
}

// parseSSE decodes a full SSE response body.
func parseSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = sseEvent{Name: strings.TrimPrefix(line, "event: ")}
		case strings.HasPrefix(line, "data: "):
			raw := strings.TrimPrefix(line, "data: ")
			var data any
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				t.Fatalf("bad SSE data %q: %v", raw, err)
			}
			if m, ok := data.(map[string]any); ok {
				current.Data = m
			} else {
				current.Data = map[string]any{"value": data}
			}
		case line == "":
			if current.Name != "" {
				events = append(events, current)
				current = sseEvent{}
			}
		}
	}
	return events
}

func eventNames(events []sseEvent) string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return fmt.Sprintf("%v", names)
}
