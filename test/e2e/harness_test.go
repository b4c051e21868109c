// Package e2e exercises the full stack over HTTP: real orchestrator, tool
// sets, knowledge state, category system and extraction pipeline, with a
// scripted model and an in-memory canvas CRUD server standing in for the
// two external services.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/agent"
	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/api"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/canvas"
	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/knowledge"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/masking"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
	"github.com/viacanvas/intelligence/pkg/queue"
	"github.com/viacanvas/intelligence/pkg/rag"
	"github.com/viacanvas/intelligence/pkg/services"
	"github.com/viacanvas/intelligence/pkg/session"
	"github.com/viacanvas/intelligence/pkg/tools"
)

// scriptedModel serves canned responses in call order; when the script is
// exhausted an optional handler takes over. Safe for concurrent use.
type scriptedModel struct {
	mu      sync.Mutex
	script  []scriptEntry
	handler func(input *llm.GenerateInput) []llm.Chunk
	inputs  []*llm.GenerateInput
}

type scriptEntry struct {
	chunks []llm.Chunk
	err    error
}

func (m *scriptedModel) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.inputs)
	m.inputs = append(m.inputs, input)

	var chunks []llm.Chunk
	switch {
	case idx < len(m.script):
		e := m.script[idx]
		if e.err != nil {
			return nil, e.err
		}
		chunks = e.chunks
	case m.handler != nil:
		chunks = m.handler(input)
	default:
		return nil, fmt.Errorf("no scripted response (call %d)", idx+1)
	}

	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) Close() error { return nil }

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func text(s string) scriptEntry {
	return scriptEntry{chunks: []llm.Chunk{&llm.TextChunk{Content: s}}}
}

func toolCall(id, name, arguments string) scriptEntry {
	return scriptEntry{chunks: []llm.Chunk{
		&llm.ToolCallChunk{CallID: id, Name: name, Arguments: arguments},
	}}
}

// canvasState is the in-memory backing store of the CRUD stub.
type canvasState struct {
	mu          sync.Mutex
	seq         int
	cards       map[string]*models.Card
	order       []string
	connections []*models.Connection
}

// newCanvasServer serves the subset of the canvas CRUD API the client
// uses, against an in-memory store.
func newCanvasServer(t *testing.T) (*canvasState, *httptest.Server) {
	t.Helper()
	st := &canvasState{cards: make(map[string]*models.Card)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/canvases/{canvas}/cards", func(w http.ResponseWriter, r *http.Request) {
		var card models.Card
		if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st.mu.Lock()
		st.seq++
		card.ID = fmt.Sprintf("card-%d", st.seq)
		card.CanvasID = r.PathValue("canvas")
		card.UpdatedAt = time.Now()
		st.cards[card.ID] = &card
		st.order = append(st.order, card.ID)
		st.mu.Unlock()
		writeJSON(w, &card)
	})
	mux.HandleFunc("GET /api/v1/canvases/{canvas}/cards", func(w http.ResponseWriter, r *http.Request) {
		canvasID := r.PathValue("canvas")
		st.mu.Lock()
		out := make([]*models.Card, 0, len(st.order))
		for _, id := range st.order {
			if c := st.cards[id]; c != nil && c.CanvasID == canvasID {
				out = append(out, c)
			}
		}
		st.mu.Unlock()
		writeJSON(w, out)
	})
	mux.HandleFunc("GET /api/v1/cards/{id}", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		card := st.cards[r.PathValue("id")]
		st.mu.Unlock()
		if card == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, card)
	})
	mux.HandleFunc("PUT /api/v1/cards/{id}", func(w http.ResponseWriter, r *http.Request) {
		var card models.Card
		if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st.mu.Lock()
		if _, ok := st.cards[r.PathValue("id")]; !ok {
			st.mu.Unlock()
			http.NotFound(w, r)
			return
		}
		card.ID = r.PathValue("id")
		card.UpdatedAt = time.Now()
		st.cards[card.ID] = &card
		st.mu.Unlock()
		writeJSON(w, &card)
	})
	mux.HandleFunc("DELETE /api/v1/cards/{id}", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		delete(st.cards, r.PathValue("id"))
		st.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/canvases/{canvas}/connections", func(w http.ResponseWriter, r *http.Request) {
		var conn models.Connection
		if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st.mu.Lock()
		conn.ID = fmt.Sprintf("conn-%d", len(st.connections)+1)
		conn.CanvasID = r.PathValue("canvas")
		st.connections = append(st.connections, &conn)
		st.mu.Unlock()
		writeJSON(w, &conn)
	})
	mux.HandleFunc("GET /api/v1/canvases/{canvas}/connections", func(w http.ResponseWriter, r *http.Request) {
		canvasID := r.PathValue("canvas")
		st.mu.Lock()
		out := make([]*models.Connection, 0, len(st.connections))
		for _, c := range st.connections {
			if c.CanvasID == canvasID {
				out = append(out, c)
			}
		}
		st.mu.Unlock()
		writeJSON(w, out)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return st, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (st *canvasState) cardList() []*models.Card {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*models.Card, 0, len(st.order))
	for _, id := range st.order {
		if c := st.cards[id]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (st *canvasState) connectionsOfType(kind models.ConnectionType) []*models.Connection {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*models.Connection
	for _, c := range st.connections {
		if c.Type == kind {
			out = append(out, c)
		}
	}
	return out
}

func (st *canvasState) seed(card *models.Card) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.seq++
	if card.ID == "" {
		card.ID = fmt.Sprintf("card-%d", st.seq)
	}
	card.UpdatedAt = time.Now()
	st.cards[card.ID] = card
	st.order = append(st.order, card.ID)
}

// env is the full wired stack. The background agent, sync, correction and
// cleanup loops are not started; scenarios drive those directly so event
// consumption stays deterministic.
type env struct {
	chat       *scriptedModel // orchestrator, controller and tool prompts
	classifier *scriptedModel // category decisions
	embedder   llm.Embedder
	events     *bus.Bus
	backend    graph.Backend
	state      *knowledge.State
	categories *category.Manager
	canvasSt   *canvasState
	canvasAPI  *canvas.Client
	extractor  *extract.Service
	store      progress.CheckpointStore
	pool       *queue.WorkerPool
	executor   *tools.Executor
	orch       *agent.Orchestrator
	sessions   *session.Manager
	server     *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		chat:       &scriptedModel{},
		classifier: &scriptedModel{},
		embedder:   llm.NewHashEmbedder(64),
		events:     bus.New(nil),
		sessions:   session.NewManager(),
	}
	t.Cleanup(e.events.Close)

	logger := slog.Default()
	e.backend = graph.NewMemoryBackend("", logger)
	e.state = knowledge.NewState(e.backend, e.embedder, config.DefaultGraphConfig(), config.DefaultThresholds(), logger)

	profiles := category.NewStore(t.TempDir() + "/profiles.json")
	clf := category.NewClassifier(e.classifier, config.DefaultClassifierConfig(), logger)
	e.categories = category.NewManager(config.DefaultClassifierConfig(), clf, profiles, logger)
	require.NoError(t, e.categories.Load())

	e.canvasSt, _ = e.wireCanvas(t)

	scrubber := masking.NewScrubber(logger)
	builder := extract.NewBuilder(e.canvasAPI, e.categories, e.state, e.embedder, e.events, config.DefaultThresholds(), logger)
	extractCfg := &config.ExtractionConfig{
		CacheDir:         t.TempDir(),
		CacheTTL:         time.Hour,
		HostRatePerSec:   1000,
		RateMaxWait:      time.Second,
		FetchTimeout:     5 * time.Second,
		MinContentLength: 100,
	}
	var err error
	e.extractor, err = extract.NewService(extractCfg, builder, scrubber, e.chat, logger)
	require.NoError(t, err)

	e.store = progress.NewMemoryStore()
	e.pool = queue.NewWorkerPool(e.store, e.events, config.DefaultQueueConfig(), config.DefaultProgressConfig(), nil)
	require.NoError(t, e.pool.Start())
	t.Cleanup(e.pool.Stop)

	registry := tools.NewRegistry(nil)
	writer := tools.NewCardWriter(e.canvasAPI, e.events, nil)
	academic := tools.NewAcademicClient(config.DefaultResearchConfig(), nil)
	ragService := rag.NewService(e.embedder, rag.NewMemoryTracker(), config.DefaultRAGConfig(), "hash-64", nil)

	toolSets := []interface{ Register(*tools.Registry) error }{
		tools.NewCanvasTools(e.canvasAPI, nil),
		tools.NewKnowledgeTools(e.state, e.categories, writer, e.canvasAPI, e.embedder, e.chat, e.pool,
			config.DefaultThresholds(), nil),
		tools.NewExtractionTools(e.extractor, e.pool, nil),
		tools.NewLearningTools(e.chat, ragService, e.canvasAPI, e.state, writer, academic, e.extractor,
			e.pool, e.events, config.DefaultThresholds(), config.DefaultRAGConfig(), nil),
		tools.NewResearchTools(e.chat, ragService, academic, writer, e.pool,
			config.DefaultResearchConfig(), config.DefaultRAGConfig(), nil),
	}
	for _, ts := range toolSets {
		require.NoError(t, ts.Register(registry))
	}
	e.executor = tools.NewExecutor(registry, nil, nil)

	ctrl := controller.New(e.chat, nil, nil)
	background := agent.NewBackground(e.chat, e.canvasAPI, e.executor, writer, e.events, nil, nil)
	e.orch = agent.NewOrchestrator(e.chat, ctrl, registry, e.executor, background, nil)

	operations := services.NewOperationService(e.store, e.pool, e.events, nil)
	apiServer := api.NewServer(config.DefaultServerConfig(), e.sessions, e.orch, operations,
		e.extractor, e.events, e.pool, nil, nil, nil)
	e.server = httptest.NewServer(apiServer.Handler())
	t.Cleanup(e.server.Close)

	return e
}

func (e *env) wireCanvas(t *testing.T) (*canvasState, *httptest.Server) {
	st, srv := newCanvasServer(t)
	e.canvasAPI = canvas.NewClient(&config.CanvasConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, slog.Default())
	return st, srv
}

// recordTopic captures every payload published on one topic.
func (e *env) recordTopic(t *testing.T, topic bus.Topic) *topicRecorder {
	t.Helper()
	rec := &topicRecorder{}
	sub := e.events.Subscribe(topic, "e2e_recorder_"+string(topic), func(_ context.Context, ev bus.Event) {
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, ev.Payload)
		rec.mu.Unlock()
	})
	t.Cleanup(sub.Unsubscribe)
	return rec
}

type topicRecorder struct {
	mu       sync.Mutex
	payloads []any
}

func (r *topicRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *topicRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, r.count(), n, "timed out waiting for %d events", n)
}

// sseEvent is one parsed frame of a chat stream.
type sseEvent struct {
	Kind string
	Data map[string]any
}

// chatStream POSTs a chat turn and parses the SSE response to completion.
func (e *env) chatStream(t *testing.T, message, sessionID, canvasID string) []sseEvent {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"message":    message,
		"session_id": sessionID,
		"canvas_id":  canvasID,
	})
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL+"/api/v1/chat/stream", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var kind string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := map[string]any{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data))
			events = append(events, sseEvent{Kind: kind, Data: data})
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func kinds(events []sseEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func firstOfKind(events []sseEvent, kind string) (sseEvent, bool) {
	for _, e := range events {
		if e.Kind == kind {
			return e, true
		}
	}
	return sseEvent{}, false
}
