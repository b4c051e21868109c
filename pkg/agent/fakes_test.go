package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/tools"
)

type mockResponse struct {
	chunks []llm.Chunk
	err    error
}

// mockClient serves canned responses in call order. Safe for concurrent
// use; the background agent generates from a bus goroutine.
type mockClient struct {
	mu        sync.Mutex
	responses []mockResponse
	inputs    []*llm.GenerateInput
}

func (m *mockClient) Generate(_ context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.inputs)
	m.inputs = append(m.inputs, input)

	if idx >= len(m.responses) {
		return nil, fmt.Errorf("no more mock responses (call %d)", idx+1)
	}
	r := m.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	ch := make(chan llm.Chunk, len(r.chunks))
	for _, c := range r.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *mockClient) Close() error { return nil }

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func (m *mockClient) input(i int) *llm.GenerateInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[i]
}

func textResponse(text string) mockResponse {
	return mockResponse{chunks: []llm.Chunk{&llm.TextChunk{Content: text}}}
}

func routeResponse(name, arguments string) mockResponse {
	return mockResponse{chunks: []llm.Chunk{
		&llm.ToolCallChunk{CallID: "route-1", Name: name, Arguments: arguments},
	}}
}

type emitted struct {
	kind      string
	text      string
	toolUseID string
	name      string
	payload   any
}

// recorder captures the event stream of a turn.
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) add(e emitted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Response(_ context.Context, text string) error {
	return r.add(emitted{kind: "response", text: text})
}

func (r *recorder) Reasoning(_ context.Context, text string) error {
	return r.add(emitted{kind: "reasoning", text: text})
}

func (r *recorder) ToolUse(_ context.Context, toolUseID, name string, input any) error {
	return r.add(emitted{kind: "tool_use", toolUseID: toolUseID, name: name, payload: input})
}

func (r *recorder) ToolResult(_ context.Context, toolUseID string, result any) error {
	return r.add(emitted{kind: "tool_result", toolUseID: toolUseID, payload: result})
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

func (r *recorder) event(i int) emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

// stubRunner is a ToolRunner with canned results keyed by tool name. An
// unknown name yields a failure result, matching executor behavior.
type stubRunner struct {
	mu      sync.Mutex
	results map[string]map[string]any
	calls   []llm.ToolCall
}

func (s *stubRunner) Execute(_ context.Context, call llm.ToolCall) (*tools.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	result, ok := s.results[call.Name]
	if !ok {
		result = tools.Fail("unknown tool: " + call.Name)
	}
	return &tools.Execution{CallID: call.ID, Name: call.Name, Result: result}, nil
}

// fakeCanvas is an in-memory canvas service.
type fakeCanvas struct {
	mu          sync.Mutex
	seq         int
	cards       map[string]*models.Card
	order       []string
	connections []*models.Connection
}

func newFakeCanvas(existing ...*models.Card) *fakeCanvas {
	f := &fakeCanvas{cards: make(map[string]*models.Card)}
	for _, card := range existing {
		c := *card
		f.cards[c.ID] = &c
		f.order = append(f.order, c.ID)
	}
	return f
}

func (f *fakeCanvas) CreateCard(_ context.Context, card *models.Card) (*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	created := *card
	created.ID = fmt.Sprintf("card-%d", f.seq)
	f.cards[created.ID] = &created
	f.order = append(f.order, created.ID)
	out := created
	return &out, nil
}

func (f *fakeCanvas) GetCard(_ context.Context, id string) (*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s not found", id)
	}
	out := *card
	return &out, nil
}

func (f *fakeCanvas) ListCards(_ context.Context, _ string) ([]*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Card, 0, len(f.order))
	for _, id := range f.order {
		c := *f.cards[id]
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeCanvas) UpdateCard(_ context.Context, card *models.Card) (*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cards[card.ID]; !ok {
		return nil, fmt.Errorf("card %s not found", card.ID)
	}
	c := *card
	f.cards[c.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeCanvas) DeleteCard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cards, id)
	return nil
}

func (f *fakeCanvas) CreateConnection(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *conn
	c.ID = fmt.Sprintf("conn-%d", len(f.connections)+1)
	f.connections = append(f.connections, &c)
	out := c
	return &out, nil
}

func (f *fakeCanvas) ListConnections(_ context.Context, _ string) ([]*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Connection, 0, len(f.connections))
	for _, c := range f.connections {
		cc := *c
		out = append(out, &cc)
	}
	return out, nil
}

func (f *fakeCanvas) createdCards() []*models.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Card, 0, len(f.order))
	for _, id := range f.order {
		c := *f.cards[id]
		out = append(out, &c)
	}
	return out
}

func (f *fakeCanvas) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connections)
}

// specialistToolNames is the union of every tool set the specialists use.
var specialistToolNames = []string{
	tools.NameGetCanvasSummary,
	tools.NameGetCardContent,
	tools.NameExtractURLContent,
	tools.NameGrowCardContent,
	tools.NameFindSimilarCards,
	tools.NameSuggestCardPlacement,
	tools.NameCreateIntelligentConnections,
	tools.NameCategorizeCard,
	tools.NameMergeCards,
	tools.NameDetectConflicts,
	tools.NameSimplifyContent,
	tools.NameFindRealExamples,
	tools.NameAnalyzeKnowledgeGaps,
	tools.NameCreateActionPlan,
	tools.NameAnswerCanvasQuestion,
	tools.NameSearchAcademicSources,
	tools.NameFindCounterpoints,
	tools.NameRefreshInformation,
	tools.NameSurprisingConnections,
	tools.NameCreateLearningCluster,
	tools.NameDeepResearch,
}

// harness wires an orchestrator over stub tools. Every specialist tool is
// registered with a default OK handler; the extraction tool records its
// arguments and returns extractResult.
type harness struct {
	client   *mockClient
	registry *tools.Registry
	executor *tools.Executor
	ctrl     *controller.Controller
	canvas   *fakeCanvas
	events   *bus.Bus
	orch     *Orchestrator

	mu            sync.Mutex
	extractCalls  []tools.Args
	extractResult map[string]any
}

func newHarness(client *mockClient) *harness {
	h := &harness{
		client:        client,
		registry:      tools.NewRegistry(nil),
		canvas:        newFakeCanvas(),
		events:        bus.New(nil),
		extractResult: tools.OK(map[string]any{"cards_created": []string{}}),
	}

	for _, name := range specialistToolNames {
		handler := func(_ context.Context, _ tools.Args) (map[string]any, error) {
			return tools.OK(map[string]any{"tool": name}), nil
		}
		if name == tools.NameExtractURLContent {
			handler = func(_ context.Context, args tools.Args) (map[string]any, error) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.extractCalls = append(h.extractCalls, args)
				return h.extractResult, nil
			}
		}
		if err := h.registry.Register(tools.Tool{Name: name, Description: name, Handler: handler}); err != nil {
			panic(err)
		}
	}

	h.executor = tools.NewExecutor(h.registry, nil, nil)
	h.ctrl = controller.New(client, nil, nil)
	writer := tools.NewCardWriter(h.canvas, h.events, nil)
	background := NewBackground(client, h.canvas, h.executor, writer, h.events, nil, nil)
	h.orch = NewOrchestrator(client, h.ctrl, h.registry, h.executor, background, nil)
	return h
}

func (h *harness) extractions() []tools.Args {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tools.Args(nil), h.extractCalls...)
}
