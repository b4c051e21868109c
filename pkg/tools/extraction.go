package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// ExtractionTools turns URLs into card trees. The work runs as a tracked
// operation on the pool, so clients see progress events and can cancel.
type ExtractionTools struct {
	extractor Extractor
	runner    Runner
	logger    *slog.Logger
}

// NewExtractionTools wires the extraction tool set.
func NewExtractionTools(extractor Extractor, runner Runner, logger *slog.Logger) *ExtractionTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionTools{
		extractor: extractor,
		runner:    runner,
		logger:    logger.With("component", "extraction_tools"),
	}
}

// Register adds the extraction tools to the registry.
func (t *ExtractionTools) Register(r *Registry) error {
	return r.Register(Tool{
		Name:        NameExtractURLContent,
		Description: "Fetch a URL, extract its content and create a structured card tree on the canvas: a parent card plus child cards for sections, examples and patterns.",
		Schema: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to extract"},
				"canvas_id": {"type": "string", "description": "Canvas to create the cards on"},
				"parent_card_id": {"type": "string", "description": "Optional card to parent the extraction under"}
			},
			"required": ["url", "canvas_id"]
		}`,
		Handler: t.extractURLContent,
	})
}

func (t *ExtractionTools) extractURLContent(ctx context.Context, args Args) (map[string]any, error) {
	rawURL := args.String("url")
	canvasID := args.String("canvas_id")
	parentID := args.String("parent_card_id")

	op := models.Operation{
		OperationID:   uuid.NewString(),
		OperationType: models.OperationTypeURLExtraction,
		CanvasID:      canvasID,
		SessionID:     args.String("session_id"),
	}

	var result *extract.BuildResult
	err := t.runner.Execute(ctx, op, func(ctx context.Context, tracker *progress.Tracker) error {
		res, err := t.extractor.ExtractToCards(ctx, rawURL, canvasID, parentID, tracker)
		result = res
		if err != nil {
			return err
		}
		tracker.Complete(ctx, fmt.Sprintf("Created %d cards from %s", len(res.CardIDs), rawURL))
		return nil
	})
	if err != nil {
		// Partial results survive a failed extraction; the model and the
		// client both learn what was already created.
		out := Fail(fmt.Sprintf("extraction failed: %s", err))
		out["operation_id"] = op.OperationID
		if result != nil && len(result.CardIDs) > 0 {
			out["cards_created"] = result.CardIDs
		}
		return out, nil
	}

	return OK(map[string]any{
		"operation_id":   op.OperationID,
		"url":            rawURL,
		"parent_card_id": result.ParentCardID,
		"cards_created":  result.CardIDs,
		"connections":    result.Connections,
	}), nil
}
