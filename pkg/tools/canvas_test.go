package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

func seededCanvas(t *testing.T) *fakeCanvas {
	t.Helper()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	canvas := newFakeCanvas(
		&models.Card{ID: "c1", CanvasID: "canvas-1", Title: "Raft", CardType: models.CardTypeRichText,
			Tags: []string{"consensus", "distributed"}, UpdatedAt: base},
		&models.Card{ID: "c2", CanvasID: "canvas-1", Title: "Paxos", CardType: models.CardTypeRichText,
			Tags: []string{"consensus"}, UpdatedAt: base.Add(time.Hour)},
		&models.Card{ID: "c3", CanvasID: "canvas-1", Title: "Reading list", CardType: models.CardTypeTodo,
			UpdatedAt: base.Add(2 * time.Hour)},
	)
	_, err := canvas.CreateConnection(context.Background(), &models.Connection{
		CanvasID: "canvas-1", SourceID: "c1", TargetID: "c2", Type: models.ConnectionTypeRelated,
	})
	require.NoError(t, err)
	return canvas
}

func TestCanvasTools_Summary(t *testing.T) {
	tools := NewCanvasTools(seededCanvas(t), nil)

	out, err := tools.getCanvasSummary(context.Background(), Args{"canvas_id": "canvas-1"})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 3, out["card_count"])
	assert.Equal(t, 1, out["connection_count"])
	assert.Equal(t, []string{"consensus", "distributed"}, out["top_tags"],
		"tags ordered by frequency, ties alphabetic")
	assert.Equal(t, map[string]int{"rich_text": 2, "todo": 1}, out["card_types"])

	recent, ok := out["recent_cards"].([]map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, recent)
	assert.Equal(t, "c3", recent[0]["card_id"], "most recently updated first")
}

func TestCanvasTools_SummaryOfEmptyCanvas(t *testing.T) {
	tools := NewCanvasTools(newFakeCanvas(), nil)

	out, err := tools.getCanvasSummary(context.Background(), Args{"canvas_id": "canvas-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, out["card_count"])
	assert.Equal(t, 0, out["connection_count"])
	assert.Empty(t, out["top_tags"])
}

func TestCanvasTools_CardContent(t *testing.T) {
	parent := "c1"
	canvas := newFakeCanvas(
		&models.Card{ID: "c1", CanvasID: "canvas-1", Title: "Raft", Content: "Consensus."},
		&models.Card{ID: "c2", CanvasID: "canvas-1", Title: "Election", Content: "Terms.",
			CardType: models.CardTypeRichText, Tags: []string{"consensus"},
			SourceURL: "https://example.com/raft", ParentID: &parent},
	)
	tools := NewCanvasTools(canvas, nil)

	out, err := tools.getCardContent(context.Background(), Args{"card_id": "c2"})
	require.NoError(t, err)
	assert.Equal(t, "Election", out["title"])
	assert.Equal(t, "Terms.", out["content"])
	assert.Equal(t, "https://example.com/raft", out["source_url"])
	assert.Equal(t, "c1", out["parent_id"])

	_, err = tools.getCardContent(context.Background(), Args{"card_id": "ghost"})
	assert.Error(t, err, "a missing card surfaces as a handler error")
}

func TestExtractionTool_Success(t *testing.T) {
	runner := newFakeRunner(nil)
	extractor := &fakeExtractor{build: &extract.BuildResult{
		ParentCardID: "card-1",
		CardIDs:      []string{"card-1", "card-2", "card-3"},
		Connections:  2,
	}}
	tools := NewExtractionTools(extractor, runner, nil)

	out, err := tools.extractURLContent(context.Background(), Args{
		"url": "https://example.com/raft", "canvas_id": "canvas-1", "session_id": "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "card-1", out["parent_card_id"])
	assert.Equal(t, []string{"card-1", "card-2", "card-3"}, out["cards_created"])

	op := runner.lastOp()
	assert.Equal(t, models.OperationTypeURLExtraction, op.OperationType)
	assert.Equal(t, "sess-1", op.SessionID)

	// The task completed, so its checkpoint is gone.
	_, err = runner.store.Get(context.Background(), op.OperationID)
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func TestExtractionTool_FailureKeepsPartialCards(t *testing.T) {
	runner := newFakeRunner(nil)
	extractor := &fakeExtractor{
		build: &extract.BuildResult{ParentCardID: "card-1", CardIDs: []string{"card-1", "card-2"}},
		err:   errors.New("host unreachable"),
	}
	tools := NewExtractionTools(extractor, runner, nil)

	out, err := tools.extractURLContent(context.Background(), Args{
		"url": "https://example.com/raft", "canvas_id": "canvas-1",
	})
	require.NoError(t, err, "tool failures are structured results, not loop errors")
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "host unreachable")
	assert.Equal(t, []string{"card-1", "card-2"}, out["cards_created"],
		"cards created before the failure are reported")

	// A failed operation retains its checkpoint for resumption.
	op := runner.lastOp()
	_, err = runner.store.Get(context.Background(), op.OperationID)
	assert.NoError(t, err)
}
