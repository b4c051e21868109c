package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// scriptedClient serves canned model responses. queueFor matches a
// substring of the system prompt and pops responses in order, routes match
// a substring with a fixed response, and unmatched calls consume the queue.
// Safe for concurrent calls.
type scriptedClient struct {
	mu       sync.Mutex
	queueFor map[string][]string
	routes   map[string]string
	queue    []string
	err      error
	calls    []*llm.GenerateInput
}

func (s *scriptedClient) Generate(_ context.Context, in *llm.GenerateInput) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, in)

	system := ""
	for _, m := range in.Messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			break
		}
	}
	text, ok := s.pick(system)
	if !ok {
		return nil, fmt.Errorf("no scripted response for call %d", len(s.calls))
	}
	ch := make(chan llm.Chunk, 1)
	ch <- &llm.TextChunk{Content: text}
	close(ch)
	return ch, nil
}

func (s *scriptedClient) pick(system string) (string, bool) {
	for sub, responses := range s.queueFor {
		if strings.Contains(system, sub) && len(responses) > 0 {
			s.queueFor[sub] = responses[1:]
			return responses[0], true
		}
	}
	for sub, resp := range s.routes {
		if strings.Contains(system, sub) {
			return resp, true
		}
	}
	if len(s.queue) > 0 {
		text := s.queue[0]
		s.queue = s.queue[1:]
		return text, true
	}
	return "", false
}

func (s *scriptedClient) Close() error { return nil }

func (s *scriptedClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeCanvas is an in-memory stand-in for the canvas CRUD service.
type fakeCanvas struct {
	mu          sync.Mutex
	seq         int
	cards       map[string]*models.Card
	order       []string
	connections []*models.Connection
	createdIDs  []string
	deletedIDs  []string
	failCreate  error
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
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.seq++
	created := *card
	created.ID = fmt.Sprintf("card-%d", f.seq)
	f.cards[created.ID] = &created
	f.order = append(f.order, created.ID)
	f.createdIDs = append(f.createdIDs, created.ID)
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
	updated := *card
	f.cards[card.ID] = &updated
	out := updated
	return &out, nil
}

func (f *fakeCanvas) DeleteCard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cards[id]; !ok {
		return fmt.Errorf("card %s not found", id)
	}
	delete(f.cards, id)
	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *fakeCanvas) CreateConnection(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *conn
	created.ID = fmt.Sprintf("conn-%d", len(f.connections)+1)
	f.connections = append(f.connections, &created)
	out := created
	return &out, nil
}

func (f *fakeCanvas) ListConnections(_ context.Context, _ string) ([]*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Connection, 0, len(f.connections))
	for _, conn := range f.connections {
		c := *conn
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeCanvas) card(id string) *models.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cards[id]
}

func (f *fakeCanvas) created() []*models.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Card, 0, len(f.createdIDs))
	for _, id := range f.createdIDs {
		if c, ok := f.cards[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCanvas) connectionsOfType(typ models.ConnectionType) []*models.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Connection
	for _, conn := range f.connections {
		if conn.Type == typ {
			out = append(out, conn)
		}
	}
	return out
}

// fakeState is an in-memory GraphState backed by fixed similarity lists.
type fakeState struct {
	mu        sync.Mutex
	nodes     map[string]*models.GraphNode
	sims      map[string][]models.Similarity
	parent    *models.Similarity
	parentErr error
	setCats   map[string]string
	stats     models.GraphStats
}

func newFakeState(nodes ...*models.GraphNode) *fakeState {
	f := &fakeState{
		nodes:   make(map[string]*models.GraphNode),
		sims:    make(map[string][]models.Similarity),
		setCats: make(map[string]string),
	}
	for _, node := range nodes {
		n := *node
		f.nodes[n.ID] = &n
	}
	return f
}

func (f *fakeState) GetCard(_ context.Context, id string) (*models.GraphNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
	}
	out := *node
	return &out, nil
}

func (f *fakeState) FindSimilar(_ context.Context, id string, limit int) ([]models.Similarity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
	}
	sims := f.sims[id]
	if limit > 0 && len(sims) > limit {
		sims = sims[:limit]
	}
	return append([]models.Similarity(nil), sims...), nil
}

func (f *fakeState) FindParentCandidate(_ context.Context, _ []float32, _ string, _ float64) (*models.Similarity, error) {
	return f.parent, f.parentErr
}

func (f *fakeState) SetCategory(_ context.Context, id, cat string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
	}
	node.Category = cat
	f.setCats[id] = cat
	return nil
}

func (f *fakeState) Stats(_ context.Context) (*models.GraphStats, error) {
	out := f.stats
	return &out, nil
}

// fakeCategorizer returns a scripted decision and assignment.
type fakeCategorizer struct {
	decision *category.Decision
	name     string
	profile  *models.CategoryProfile
	score    float64
}

func (f *fakeCategorizer) Classify(_ context.Context, _ string, _ []float32) (*category.Decision, []category.Candidate, error) {
	return f.decision, nil, nil
}

func (f *fakeCategorizer) Assign(_ context.Context, _ string, _ []float32, _ *category.Decision) (string, error) {
	return f.name, nil
}

func (f *fakeCategorizer) SemanticMatch(_ []float32) (*models.CategoryProfile, float64) {
	return f.profile, f.score
}

// fakeRetriever returns fixed RAG context and search results.
type fakeRetriever struct {
	context string
	results []models.SearchResult
	err     error
}

func (f *fakeRetriever) RetrieveContext(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	return f.context, f.err
}

func (f *fakeRetriever) Search(_ context.Context, _, _, _ string, _ int, _ float64) ([]models.SearchResult, error) {
	return f.results, f.err
}

// fakeExtractor returns fixed extraction results.
type fakeExtractor struct {
	payload *extract.Payload
	build   *extract.BuildResult
	err     error
}

func (f *fakeExtractor) ExtractToCards(_ context.Context, _, _, _ string, _ *progress.Tracker) (*extract.BuildResult, error) {
	return f.build, f.err
}

func (f *fakeExtractor) ExtractURL(_ context.Context, _ string) (*extract.Payload, error) {
	return f.payload, f.err
}

// fakeRunner drives a real tracker the way the worker pool does: start the
// checkpoint, run the task, then a generic terminal transition unless the
// task already made one.
type fakeRunner struct {
	store  *progress.MemoryStore
	events *bus.Bus
	mu     sync.Mutex
	ops    []models.Operation
}

func newFakeRunner(events *bus.Bus) *fakeRunner {
	return &fakeRunner{store: progress.NewMemoryStore(), events: events}
}

func (f *fakeRunner) Execute(ctx context.Context, op models.Operation, task func(context.Context, *progress.Tracker) error) error {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()

	tracker := progress.NewTracker(op, f.store, f.events, nil, slog.Default())
	tracker.Start(ctx)
	if err := task(ctx, tracker); err != nil {
		tracker.Fail(ctx, err)
		return err
	}
	tracker.Complete(ctx, "operation complete")
	return nil
}

func (f *fakeRunner) lastOp() models.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops[len(f.ops)-1]
}

func newTestWriter(canvas CanvasAPI, events *bus.Bus) *CardWriter {
	return NewCardWriter(canvas, events, slog.Default())
}
