package tools

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

func newTestResearch(client *scriptedClient, rag Retriever, canvas *fakeCanvas,
	academic *AcademicClient, runner *fakeRunner) *ResearchTools {
	if rag == nil {
		rag = &fakeRetriever{}
	}
	writer := newTestWriter(canvas, bus.New(nil))
	return NewResearchTools(client, rag, academic, writer, runner, nil, nil, slog.Default())
}

func researchRoutes(synthesis string) map[string]string {
	return map[string]string{
		"frame a research question":     `{"goal": "Understand Raft end to end", "angles": ["safety", "liveness"]}`,
		"decompose a research question": `{"sub_questions": ["How does Raft elect a leader?", "How does Raft replicate logs?"]}`,
		"brief a researcher":            "Raft uses randomized election timeouts to avoid split votes.",
		"review research findings":      `{"gaps": []}`,
		"synthesize research findings":  synthesis,
	}
}

func TestResearchTools_DeepResearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, worksBody)
	}))
	defer srv.Close()

	client := &scriptedClient{routes: researchRoutes(`{
		"title": "Raft consensus",
		"summary": "Raft trades generality for understandability.",
		"sections": [
			{"title": "Leader election", "content": "Randomized timeouts decide the leader [1]."},
			{"title": "Log replication", "content": "The leader appends entries to followers."}
		]
	}`)}
	canvas := newFakeCanvas()
	rag := &fakeRetriever{context: "The canvas already covers terms and votes."}
	runner := newFakeRunner(nil)
	tools := newTestResearch(client, rag, canvas, testAcademicClient(srv.URL), runner)

	out, err := tools.deepResearch(context.Background(),
		Args{"canvas_id": "canvas-1", "query": "How does Raft work?"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "card-1", out["root_card_id"])
	assert.Len(t, out["cards_created"], 4, "root, two sections, references")
	assert.Equal(t, []string{"How does Raft elect a leader?", "How does Raft replicate logs?"},
		out["sub_questions"])
	assert.Equal(t, 1, out["sources_found"],
		"the same paper found for both sub-questions dedupes by DOI")

	created := canvas.created()
	require.Len(t, created, 4)
	root := created[0]
	assert.Equal(t, "Raft consensus", root.Title)
	assert.Equal(t, "Raft trades generality for understandability.", root.Content)
	assert.Equal(t, []string{"research"}, root.Tags)
	assert.Equal(t, []string{"https://doi.org/10.5555/2643634.2643666"}, root.Sources)

	refsCard := created[3]
	assert.Equal(t, "References", refsCard.Title)
	assert.Contains(t, refsCard.Content, "[1] In Search of an Understandable Consensus Algorithm")
	assert.Contains(t, refsCard.Content, "https://doi.org/10.5555/2643634.2643666")
	assert.Len(t, canvas.connectionsOfType(models.ConnectionTypeParentChild), 2)
	assert.Len(t, canvas.connectionsOfType(models.ConnectionTypeReference), 1)

	op := runner.lastOp()
	assert.Equal(t, models.OperationTypeDeepResearch, op.OperationType)
	_, err = runner.store.Get(context.Background(), op.OperationID)
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func TestResearchTools_DeepResearch_DegradesWithoutSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := &scriptedClient{routes: researchRoutes(`{
		"title": "Raft consensus",
		"summary": "Synthesized from model knowledge and the canvas alone.",
		"sections": [{"title": "Overview", "content": "Leader-based consensus."}]
	}`)}
	canvas := newFakeCanvas()
	rag := &fakeRetriever{err: assert.AnError}
	runner := newFakeRunner(nil)
	tools := newTestResearch(client, rag, canvas, testAcademicClient(srv.URL), runner)

	out, err := tools.deepResearch(context.Background(),
		Args{"canvas_id": "canvas-1", "query": "How does Raft work?"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"],
		"losing the literature and canvas sources degrades, it does not fail")
	assert.Equal(t, 0, out["sources_found"])
	assert.Len(t, out["cards_created"], 2, "no references card without sources")

	created := canvas.created()
	require.Len(t, created, 2)
	assert.Empty(t, created[0].Sources)
	assert.Len(t, canvas.connectionsOfType(models.ConnectionTypeReference), 0)
}

func TestResearchTools_DeepResearch_DecompositionFallsBackToQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"message": {"items": []}}`)
	}))
	defer srv.Close()

	routes := researchRoutes(`{"title": "T", "summary": "S", "sections": []}`)
	routes["decompose a research question"] = `{"sub_questions": ["", "  "]}`
	client := &scriptedClient{routes: routes}
	tools := newTestResearch(client, nil, newFakeCanvas(), testAcademicClient(srv.URL), newFakeRunner(nil))

	out, err := tools.deepResearch(context.Background(),
		Args{"canvas_id": "canvas-1", "query": "What is CRDT convergence?"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []string{"What is CRDT convergence?"}, out["sub_questions"],
		"an unusable decomposition researches the question itself")
}

func TestResearchTools_DeepResearch_EmptySynthesisFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"message": {"items": []}}`)
	}))
	defer srv.Close()

	client := &scriptedClient{routes: researchRoutes(`{"title": "", "summary": "", "sections": []}`)}
	canvas := newFakeCanvas()
	runner := newFakeRunner(nil)
	tools := newTestResearch(client, nil, canvas, testAcademicClient(srv.URL), runner)

	out, err := tools.deepResearch(context.Background(),
		Args{"canvas_id": "canvas-1", "query": "How does Raft work?"})
	require.NoError(t, err)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "empty report")
	assert.NotEmpty(t, out["operation_id"])
	assert.Empty(t, canvas.created())

	// The failed operation keeps its checkpoint for later inspection.
	op := runner.lastOp()
	_, err = runner.store.Get(context.Background(), op.OperationID)
	assert.NoError(t, err)
}

func TestResearchTools_ReviewLoopGathersGaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"message": {"items": []}}`)
	}))
	defer srv.Close()

	routes := researchRoutes(`{"title": "T", "summary": "S", "sections": [{"title": "A", "content": "a"}]}`)
	delete(routes, "review research findings")
	// The first review finds a gap; the loop gathers it and the second
	// review is satisfied.
	client := &scriptedClient{
		routes: routes,
		queueFor: map[string][]string{
			"review research findings": {
				`{"gaps": ["What happens during a network partition?"]}`,
				`{"gaps": []}`,
			},
		},
	}
	tools := newTestResearch(client, nil, newFakeCanvas(), testAcademicClient(srv.URL), newFakeRunner(nil))

	out, err := tools.deepResearch(context.Background(),
		Args{"canvas_id": "canvas-1", "query": "How does Raft work?"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	// brief, decompose, two sub-question insights, first review, the gap's
	// insight, second review, synthesis.
	assert.Equal(t, 8, client.callCount())
}

func TestDedupeSources(t *testing.T) {
	findings := []*finding{
		{Sources: []Source{
			{Title: "Raft paper", DOI: "10.1/raft"},
			{Title: "No DOI survey"},
		}},
		{Sources: []Source{
			{Title: "RAFT PAPER", DOI: "10.1/raft"}, // same DOI
			{Title: "no doi survey"},                // same title, case folded
			{Title: "Fresh result", DOI: "10.2/new"},
		}},
	}
	got := dedupeSources(findings)
	require.Len(t, got, 3)
	assert.Equal(t, "Raft paper", got[0].Title)
	assert.Equal(t, "No DOI survey", got[1].Title)
	assert.Equal(t, "Fresh result", got[2].Title)
}

func TestFindingsDigest_NumbersSources(t *testing.T) {
	findings := []*finding{{
		Question: "How does Raft elect a leader?",
		Insight:  "Randomized timeouts.",
		Canvas:   "Cards cover terms.",
		Sources:  []Source{{Title: "Raft paper"}},
	}}
	sources := []Source{{Title: "Raft paper", Authors: []string{"Diego Ongaro"}}}

	digest := findingsDigest("How does Raft work?", &researchBrief{Goal: "Grok Raft"}, findings, sources)
	assert.Contains(t, digest, "Main question: How does Raft work?")
	assert.Contains(t, digest, "Goal: Grok Raft")
	assert.Contains(t, digest, "## How does Raft elect a leader?")
	assert.Contains(t, digest, "Briefing: Randomized timeouts.")
	assert.Contains(t, digest, "[1] Raft paper by Diego Ongaro")
}
