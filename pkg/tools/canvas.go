package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/viacanvas/intelligence/pkg/models"
)

// CanvasTools answers questions about what is on a canvas. Read-only.
type CanvasTools struct {
	canvas CanvasAPI
	logger *slog.Logger
}

// NewCanvasTools wires the canvas query tool set.
func NewCanvasTools(canvasAPI CanvasAPI, logger *slog.Logger) *CanvasTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &CanvasTools{canvas: canvasAPI, logger: logger.With("component", "canvas_tools")}
}

// Register adds the canvas tools to the registry.
func (t *CanvasTools) Register(r *Registry) error {
	tools := []Tool{
		{
			Name:        NameGetCanvasSummary,
			Description: "Summarize a canvas: card count, connection count, most used tags, card types, and recently touched cards.",
			Schema: `{
				"type": "object",
				"properties": {
					"canvas_id": {"type": "string", "description": "The canvas to summarize"}
				},
				"required": ["canvas_id"]
			}`,
			Handler: t.getCanvasSummary,
		},
		{
			Name:        NameGetCardContent,
			Description: "Fetch one card's full title, content, tags and source.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to fetch"}
				},
				"required": ["card_id"]
			}`,
			Handler: t.getCardContent,
		},
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (t *CanvasTools) getCanvasSummary(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	cards, err := t.canvas.ListCards(ctx, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	connections, err := t.canvas.ListConnections(ctx, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	tagCounts := make(map[string]int)
	typeCounts := make(map[string]int)
	for _, c := range cards {
		for _, tag := range c.Tags {
			tagCounts[tag]++
		}
		typeCounts[string(c.CardType)]++
	}

	recent := make([]*models.Card, len(cards))
	copy(recent, cards)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].UpdatedAt.After(recent[j].UpdatedAt)
	})
	recentOut := make([]map[string]any, 0, 5)
	for _, c := range recent {
		if len(recentOut) == 5 {
			break
		}
		recentOut = append(recentOut, map[string]any{"card_id": c.ID, "title": c.Title})
	}

	return OK(map[string]any{
		"canvas_id":        canvasID,
		"card_count":       len(cards),
		"connection_count": len(connections),
		"top_tags":         topTags(tagCounts, 10),
		"card_types":       typeCounts,
		"recent_cards":     recentOut,
	}), nil
}

func (t *CanvasTools) getCardContent(ctx context.Context, args Args) (map[string]any, error) {
	card, err := t.canvas.GetCard(ctx, args.String("card_id"))
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	out := map[string]any{
		"card_id":   card.ID,
		"canvas_id": card.CanvasID,
		"title":     card.Title,
		"content":   card.Content,
		"card_type": string(card.CardType),
	}
	if len(card.Tags) > 0 {
		out["tags"] = card.Tags
	}
	if card.SourceURL != "" {
		out["source_url"] = card.SourceURL
	}
	if card.ParentID != nil {
		out["parent_id"] = *card.ParentID
	}
	return OK(out), nil
}

// topTags orders tags by frequency, breaking ties alphabetically so
// summaries are stable.
func topTags(counts map[string]int, limit int) []string {
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}
