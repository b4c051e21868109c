package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/knowledge"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/vector"
)

// scriptedEmbedder returns fixed vectors keyed by the exact embed text.
type scriptedEmbedder struct {
	vectors map[string][]float32
}

func (e *scriptedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, ok := e.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no scripted vector for %q", t)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *scriptedEmbedder) Dimension() int { return 2 }

// fakeIndex records retrieval-index calls.
type fakeIndex struct {
	mu      sync.Mutex
	indexed []indexCall
	deleted []string
}

type indexCall struct {
	id         string
	canvasID   string
	entityType string
	force      bool
}

func (f *fakeIndex) IndexCard(_ context.Context, id, _, canvasID, entityType string, _ map[string]any, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, indexCall{id: id, canvasID: canvasID, entityType: entityType, force: force})
	return nil
}

func (f *fakeIndex) DeleteCardIndex(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) Search(context.Context, string, string, string, int, float64) ([]models.SearchResult, error) {
	return nil, nil
}

func (f *fakeIndex) RetrieveContext(context.Context, string, string, int, float64) (string, error) {
	return "", nil
}

func (f *fakeIndex) indexedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.indexed))
	for i, c := range f.indexed {
		out[i] = c.id
	}
	return out
}

func (f *fakeIndex) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fixture struct {
	state      *knowledge.State
	categories *category.Manager
	index      *fakeIndex
	events     *bus.Bus
	backend    graph.Backend
	svc        *Service
}

func newFixture(t *testing.T, vectors map[string][]float32) *fixture {
	t.Helper()

	backend := graph.NewMemoryBackend("", slog.Default())
	state := knowledge.NewState(backend, &scriptedEmbedder{vectors: vectors},
		config.DefaultGraphConfig(), config.DefaultThresholds(), slog.Default())

	ccfg := config.DefaultClassifierConfig()
	ccfg.ProfilesPath = filepath.Join(t.TempDir(), "profiles.json")
	// nil classifier: stage B is the deterministic fallback. Tests seed
	// profiles with clear winners so decisions do not hinge on tie-breaks.
	categories := category.NewManager(ccfg, nil, category.NewStore(ccfg.ProfilesPath), slog.Default())

	index := &fakeIndex{}
	events := bus.New(nil)
	svc := NewService(state, categories, index, events, slog.Default())
	svc.Start()

	t.Cleanup(events.Close)
	t.Cleanup(svc.Stop)

	return &fixture{
		state:      state,
		categories: categories,
		index:      index,
		events:     events,
		backend:    backend,
		svc:        svc,
	}
}

func seedCategory(t *testing.T, m *category.Manager, name, seedText string, centroid []float32, keywords ...string) {
	t.Helper()
	_, err := m.Assign(context.Background(), seedText, centroid, &category.Decision{
		Action: category.ActionCreateNew,
		NewCategory: &category.NewCategory{
			Name:        name,
			Description: name + " material.",
			Keywords:    keywords,
		},
	})
	require.NoError(t, err)
}

func TestService_CardCreatedInsertsClassifiesAndIndexes(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"Go Channels\n\nbuffered channels and select loops": {1, 0},
	})
	seedCategory(t, f.categories, "Concurrency", "goroutines and channels", []float32{1, 0}, "channels", "goroutines")
	seedCategory(t, f.categories, "Baking", "sourdough in the oven", []float32{0, 1}, "sourdough", "oven")

	f.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID:   "card-1",
		CanvasID: "canvas-1",
		Title:    "Go Channels",
		Content:  "buffered channels and select loops",
		Metadata: map[string]any{"source_url": "https://example.com/channels"},
	})
	f.events.Close()

	node, err := f.state.GetCard(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, "Concurrency", node.Category)
	assert.Equal(t, "https://example.com/channels", node.Attributes["source_url"])

	p, ok := f.categories.ByName("Concurrency")
	require.True(t, ok)
	assert.Equal(t, 2, p.CardCount, "seed member plus the new card")
	assert.Equal(t, 1, p.AutoAssignments)

	require.Equal(t, []string{"card-1"}, f.index.indexedIDs())
	f.index.mu.Lock()
	call := f.index.indexed[0]
	f.index.mu.Unlock()
	assert.Equal(t, "canvas-1", call.canvasID)
	assert.Equal(t, "card", call.entityType)
	assert.False(t, call.force)
}

func TestService_CardCreatedSuggestsParentAfterClassification(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"Alpha\n\nalpha notes": {1, 0},
		"Beta\n\nbeta notes":   {0.8, 0.6},
	})
	seedCategory(t, f.categories, "Notes", "assorted notes", []float32{1, 0}, "notes")

	type observed struct {
		payload  bus.ConnectionSuggestedPayload
		category string
	}
	seen := make(chan observed, 1)
	f.events.Subscribe(bus.TopicConnectionSuggested, "probe", func(ctx context.Context, ev bus.Event) {
		p := ev.Payload.(bus.ConnectionSuggestedPayload)
		node, err := f.state.GetCard(ctx, p.TargetID)
		require.NoError(t, err)
		seen <- observed{payload: p, category: node.Category}
	})

	f.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID: "card-a", CanvasID: "canvas-1", Title: "Alpha", Content: "alpha notes",
	})
	f.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID: "card-b", CanvasID: "canvas-1", Title: "Beta", Content: "beta notes",
	})

	var got observed
	select {
	case got = <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("no parent suggestion emitted")
	}

	assert.Equal(t, "card-a", got.payload.SourceID)
	assert.Equal(t, "card-b", got.payload.TargetID)
	assert.Equal(t, "canvas-1", got.payload.CanvasID)
	assert.Equal(t, string(models.ConnectionTypeParentChild), got.payload.ConnectionType)
	assert.InDelta(t, 0.8, got.payload.Score, 1e-6)
	assert.Equal(t, "Notes", got.category,
		"the node must already carry its category when the suggestion goes out")
}

func TestService_CardUpdatedReclassifiesOnContentChange(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"Channel Patterns\n\nchannels in go pipelines":     {1, 0},
		"Sourdough Notes\n\nsourdough hydration schedules": {0, 1},
	})
	seedCategory(t, f.categories, "Concurrency", "goroutines and channels", []float32{1, 0}, "channels", "goroutines")
	seedCategory(t, f.categories, "Baking", "sourdough in the oven", []float32{0, 1}, "sourdough", "oven")

	f.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID: "card-1", CanvasID: "canvas-1", Title: "Channel Patterns", Content: "channels in go pipelines",
	})
	f.events.Emit(bus.TopicCardUpdated, bus.CardUpdatedPayload{
		CardID: "card-1", CanvasID: "canvas-1", Title: "Sourdough Notes", Content: "sourdough hydration schedules",
	})
	f.events.Close()

	node, err := f.state.GetCard(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, "Baking", node.Category)
	assert.Equal(t, "sourdough hydration schedules", node.Content)

	conc, ok := f.categories.ByName("Concurrency")
	require.True(t, ok)
	assert.Equal(t, 1, conc.CardCount, "the moved card must be subtracted")
	assert.Zero(t, conc.UserCorrections, "an automatic move is not a user correction")

	baking, ok := f.categories.ByName("Baking")
	require.True(t, ok)
	assert.Equal(t, 2, baking.CardCount)
	assert.Equal(t, 1, baking.AutoAssignments)

	assert.Equal(t, []string{"card-1", "card-1"}, f.index.indexedIDs(),
		"create and update must each refresh the index")
}

func TestService_CardUpdatedUserCategoryIsACorrection(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"Go Channels\n\nbuffered channels and select loops": {1, 0},
	})
	seedCategory(t, f.categories, "Concurrency", "goroutines and channels", []float32{1, 0}, "channels")

	f.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID: "card-1", CanvasID: "canvas-1", Title: "Go Channels", Content: "buffered channels and select loops",
	})
	// Same content, user-chosen category in the metadata.
	f.events.Emit(bus.TopicCardUpdated, bus.CardUpdatedPayload{
		CardID: "card-1", CanvasID: "canvas-1", Title: "Go Channels", Content: "buffered channels and select loops",
		Metadata: map[string]any{"category": "Distributed Systems"},
	})
	f.events.Close()

	node, err := f.state.GetCard(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, "Distributed Systems", node.Category)

	conc, ok := f.categories.ByName("Concurrency")
	require.True(t, ok)
	assert.Equal(t, 1, conc.CardCount)
	assert.Equal(t, 1, conc.UserCorrections, "the classifier had this card wrong")

	ds, ok := f.categories.ByName("Distributed Systems")
	require.True(t, ok)
	assert.Equal(t, 1, ds.CardCount)
}

func TestService_CardUpdatedUnknownCardAppliesAsCreate(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"Orphan\n\norphan notes about nothing": {1, 0},
	})
	seedCategory(t, f.categories, "Notes", "assorted notes", []float32{1, 0}, "notes")

	f.events.Emit(bus.TopicCardUpdated, bus.CardUpdatedPayload{
		CardID: "card-9", CanvasID: "canvas-1", Title: "Orphan", Content: "orphan notes about nothing",
	})
	f.events.Close()

	node, err := f.state.GetCard(context.Background(), "card-9")
	require.NoError(t, err)
	assert.Equal(t, "Notes", node.Category)
	assert.Equal(t, []string{"card-9"}, f.index.indexedIDs())
}

func TestService_CardDeletedRemovesNodeMembershipAndIndex(t *testing.T) {
	f := newFixture(t, map[string][]float32{
		"Go Channels\n\nbuffered channels and select loops": {1, 0},
	})
	seedCategory(t, f.categories, "Concurrency", "goroutines and channels", []float32{1, 0}, "channels")

	f.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID: "card-1", CanvasID: "canvas-1", Title: "Go Channels", Content: "buffered channels and select loops",
	})
	f.events.Emit(bus.TopicCardDeleted, bus.CardDeletedPayload{CardID: "card-1", CanvasID: "canvas-1"})
	f.events.Close()

	_, err := f.state.GetCard(context.Background(), "card-1")
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	p, ok := f.categories.ByName("Concurrency")
	require.True(t, ok)
	assert.Equal(t, 1, p.CardCount, "deletion must return the membership")

	assert.Equal(t, []string{"card-1"}, f.index.deletedIDs())
}

func TestService_CardDeletedUnknownCardStillClearsIndex(t *testing.T) {
	f := newFixture(t, nil)

	f.events.Emit(bus.TopicCardDeleted, bus.CardDeletedPayload{CardID: "ghost", CanvasID: "canvas-1"})
	f.events.Close()

	stats, err := f.state.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
	assert.Equal(t, []string{"ghost"}, f.index.deletedIDs(),
		"stale index entries are cleaned even when the graph never saw the card")
}

func TestService_ConnectionCreatedMirrorsTypedEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]float32{
		"alpha": {1, 0},
		"delta": {0, 1},
	})

	_, err := f.state.AddCard(ctx, knowledge.CardInput{ID: "a", CanvasID: "canvas-1", Content: "alpha"})
	require.NoError(t, err)
	_, err = f.state.AddCard(ctx, knowledge.CardInput{ID: "d", CanvasID: "canvas-1", Content: "delta"})
	require.NoError(t, err)

	score := 0.42
	f.events.Emit(bus.TopicConnectionCreated, bus.ConnectionCreatedPayload{
		SourceID:        "a",
		TargetID:        "d",
		CanvasID:        "canvas-1",
		ConnectionType:  string(models.ConnectionTypeRelated),
		SimilarityScore: &score,
	})
	f.events.Close()

	edge, err := f.backend.GetEdge(ctx, "a", "d")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionTypeRelated, edge.Type)
	assert.Equal(t, 0.42, edge.Weight)
}

func TestService_ConnectionCreatedComputesMissingSimilarity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]float32{
		"alpha": {1, 0},
		"mix":   {1, 3},
	})

	_, err := f.state.AddCard(ctx, knowledge.CardInput{ID: "a", CanvasID: "canvas-1", Content: "alpha"})
	require.NoError(t, err)
	_, err = f.state.AddCard(ctx, knowledge.CardInput{ID: "m", CanvasID: "canvas-1", Content: "mix"})
	require.NoError(t, err)

	f.events.Emit(bus.TopicConnectionCreated, bus.ConnectionCreatedPayload{
		SourceID:       "a",
		TargetID:       "m",
		CanvasID:       "canvas-1",
		ConnectionType: string(models.ConnectionTypeReference),
	})
	f.events.Close()

	edge, err := f.backend.GetEdge(ctx, "a", "m")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionTypeReference, edge.Type)
	want := vector.Cosine([]float32{1, 0}, []float32{1, 3})
	assert.InDelta(t, want, edge.Weight, 1e-9)
}

func TestService_ForeignTopicsAndBadPayloadsIgnored(t *testing.T) {
	f := newFixture(t, nil)

	f.events.Emit(bus.TopicProgressUpdate, bus.ProgressUpdatePayload{OperationID: "op-1", Progress: 0.5})
	f.events.Emit(bus.TopicCardCreated, "not a payload struct")
	f.events.Emit(bus.TopicConnectionCreated, 42)
	f.events.Close()

	stats, err := f.state.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
	assert.Empty(t, f.index.indexedIDs())
}
