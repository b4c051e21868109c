package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/tools"
)

func TestFirstURL(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"bare url", "https://example.com/article", "https://example.com/article"},
		{"mid sentence", "please read https://example.com/a and summarize", "https://example.com/a"},
		{"trailing punctuation", "look at https://example.com/a.", "https://example.com/a"},
		{"http scheme", "http://example.com", "http://example.com"},
		{"no url", "summarize my canvas", ""},
		{"bare host message", "kiro.dev", "https://kiro.dev"},
		{"bare host with path", "kiro.dev/docs/getting-started", "https://kiro.dev/docs/getting-started"},
		{"bare host with port", "localhost.test:8080/article", "https://localhost.test:8080/article"},
		{"bare host trailing punctuation", "kiro.dev.", "https://kiro.dev"},
		{"bare host inside prose stays chat", "visit example.com today", ""},
		{"version string stays chat", "v1.2", ""},
		{"filename-like single word", "notes", ""},
		{"first of several", "https://a.example.com then https://b.example.com", "https://a.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FirstURL(tc.text))
		})
	}
}

func TestOrchestratorURLFastPath(t *testing.T) {
	client := &mockClient{}
	h := newHarness(client)
	h.extractResult = tools.OK(map[string]any{
		"operation_id":  "op-1",
		"url":           "https://example.com/article",
		"cards_created": []string{"c1", "c2", "c3"},
		"connections":   2,
	})
	rec := &recorder{}

	turn := &Turn{
		Message:   "can you import https://example.com/article for me?",
		SessionID: "sess-1",
		CanvasID:  "canvas-1",
	}
	text, err := h.orch.Respond(context.Background(), turn, rec)
	require.NoError(t, err)
	assert.Equal(t, "I imported https://example.com/article into 3 cards on your canvas.", text)
	assert.Zero(t, client.callCount(), "the url fast path must not call the model")

	calls := h.extractions()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://example.com/article", calls[0].String("url"))
	assert.Equal(t, "canvas-1", calls[0].String("canvas_id"))
	assert.Equal(t, "sess-1", calls[0].String("session_id"), "turn defaults reach the tool")

	require.Equal(t, []string{"tool_use", "tool_result"}, rec.kinds())
	assert.Equal(t, tools.NameExtractURLContent, rec.event(0).name)
	assert.Equal(t, rec.event(0).toolUseID, rec.event(1).toolUseID)
}

func TestOrchestratorBareHostFastPath(t *testing.T) {
	client := &mockClient{}
	h := newHarness(client)
	h.extractResult = tools.OK(map[string]any{
		"operation_id":  "op-1",
		"url":           "https://kiro.dev",
		"cards_created": []string{"c1", "c2"},
		"connections":   1,
	})
	rec := &recorder{}

	// The whole message is a bare host: it must import without a routing
	// model call, same as a schemed URL.
	turn := &Turn{Message: "kiro.dev", SessionID: "sess-1", CanvasID: "canvas-1"}
	text, err := h.orch.Respond(context.Background(), turn, rec)
	require.NoError(t, err)
	assert.Equal(t, "I imported https://kiro.dev into 2 cards on your canvas.", text)
	assert.Zero(t, client.callCount(), "a pasted bare host must not call the model")

	calls := h.extractions()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://kiro.dev", calls[0].String("url"), "the bare host reaches the tool with a scheme")
	assert.Equal(t, "canvas-1", calls[0].String("canvas_id"))

	require.Equal(t, []string{"tool_use", "tool_result"}, rec.kinds())
	assert.Equal(t, tools.NameExtractURLContent, rec.event(0).name)
}

func TestOrchestratorURLWithoutCanvasRoutes(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		textResponse("I can import that link once you attach a canvas."),
	}}
	h := newHarness(client)
	rec := &recorder{}

	turn := &Turn{Message: "import https://example.com/article", SessionID: "sess-1"}
	text, err := h.orch.Respond(context.Background(), turn, rec)
	require.NoError(t, err)
	assert.Equal(t, "I can import that link once you attach a canvas.", text)
	assert.Empty(t, h.extractions())
	assert.Equal(t, 1, client.callCount())
}

func TestOrchestratorRoutesToSpecialist(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		routeResponse(SpecialistLearning, `{"task":"quiz me on photosynthesis"}`),
		textResponse("Three questions to test yourself with: ..."),
	}}
	h := newHarness(client)
	rec := &recorder{}

	turn := &Turn{Message: "quiz me on what I have", SessionID: "sess-1", CanvasID: "canvas-1"}
	text, err := h.orch.Respond(context.Background(), turn, rec)
	require.NoError(t, err)
	assert.Equal(t, "Three questions to test yourself with: ...", text)
	require.Equal(t, 2, client.callCount())

	// Routing call offers the four specialists as tools.
	routing := client.input(0)
	require.Len(t, routing.Tools, 4)
	assert.Contains(t, routing.Messages[0].Content, "routing layer")

	// The specialist call carries its own system prompt and the routed task.
	specialist := client.input(1)
	assert.Contains(t, specialist.Messages[0].Content, "learning-assistant specialist")
	last := specialist.Messages[len(specialist.Messages)-1]
	assert.Contains(t, last.Content, "quiz me on what I have")
	assert.Contains(t, last.Content, "[Routed task: quiz me on photosynthesis]")
	assert.NotEmpty(t, specialist.Tools)

	// On the wire the dispatch is a tool_use/tool_result pair around the
	// specialist's streamed answer.
	require.Equal(t, []string{"tool_use", "response", "tool_result"}, rec.kinds())
	assert.Equal(t, SpecialistLearning, rec.event(0).name)
	ack, ok := rec.event(2).payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, SpecialistLearning, ack["specialist"])
	assert.Equal(t, true, ack["success"])
}

func TestOrchestratorSmallTalkAnswersDirectly(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		textResponse("Hello! What would you like to work on?"),
	}}
	h := newHarness(client)
	rec := &recorder{}

	text, err := h.orch.Respond(context.Background(), &Turn{Message: "hi there"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Hello! What would you like to work on?", text)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, []string{"response"}, rec.kinds(), "small talk streams without a specialist dispatch")
}

func TestOrchestratorUnknownSpecialistFallsBack(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		routeResponse("ghost_agent", `{"task":"help"}`),
		textResponse("Here is what I found in your notes."),
	}}
	h := newHarness(client)
	rec := &recorder{}

	text, err := h.orch.Respond(context.Background(), &Turn{Message: "help me study", CanvasID: "canvas-1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Here is what I found in your notes.", text)
	assert.Equal(t, SpecialistLearning, rec.event(0).name, "unknown picks fall back to the learning assistant")
}

func TestOrchestratorUsesFirstOfMultipleCalls(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		{chunks: []llm.Chunk{
			&llm.ToolCallChunk{CallID: "r1", Name: SpecialistKnowledge, Arguments: `{"task":"organize"}`},
			&llm.ToolCallChunk{CallID: "r2", Name: SpecialistLearning, Arguments: `{"task":"study"}`},
		}},
		textResponse("I tidied up the canvas."),
	}}
	h := newHarness(client)
	rec := &recorder{}

	text, err := h.orch.Respond(context.Background(), &Turn{Message: "organize and quiz me", CanvasID: "canvas-1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "I tidied up the canvas.", text)
	assert.Equal(t, SpecialistKnowledge, rec.event(0).name)
	assert.Contains(t, client.input(1).Messages[0].Content, "knowledge-graph specialist")
}

func TestOrchestratorRoutingRetriesOnce(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		{chunks: []llm.Chunk{&llm.ErrorChunk{Message: "overloaded", Retryable: true}}},
		routeResponse(SpecialistLearning, `{}`),
		textResponse("Recovered and answered."),
	}}
	h := newHarness(client)

	text, err := h.orch.Respond(context.Background(), &Turn{Message: "quiz me", CanvasID: "canvas-1"}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "Recovered and answered.", text)
	assert.Equal(t, 3, client.callCount())
}

func TestOrchestratorRoutingFailsAfterRetries(t *testing.T) {
	client := &mockClient{responses: []mockResponse{
		{chunks: []llm.Chunk{&llm.ErrorChunk{Message: "down"}}},
		{chunks: []llm.Chunk{&llm.ErrorChunk{Message: "still down"}}},
	}}
	h := newHarness(client)

	_, err := h.orch.Respond(context.Background(), &Turn{Message: "quiz me"}, &recorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing failed")
	var genErr *llm.GenerateError
	assert.ErrorAs(t, err, &genErr)
}

func TestRoutingMessagesCanvasNote(t *testing.T) {
	with := routingMessages(&Turn{Message: "hi", CanvasID: "canvas-1"})
	assert.Contains(t, with[0].Content, "A canvas is attached")

	without := routingMessages(&Turn{Message: "hi"})
	assert.Contains(t, without[0].Content, "No canvas is attached")

	history := []llm.ConversationMessage{
		{Role: llm.RoleUser, Content: "earlier"},
		{Role: llm.RoleAssistant, Content: "reply"},
	}
	msgs := routingMessages(&Turn{Message: "now", History: history})
	require.Len(t, msgs, 4)
	assert.Equal(t, "earlier", msgs[1].Content)
	assert.Equal(t, "now", msgs[3].Content)
}
