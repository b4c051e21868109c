package tools

import (
	"context"
	"log/slog"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/models"
)

// CardWriter performs canvas mutations on behalf of tools and emits the
// events that feed the knowledge graph sync. Tools never write the graph
// directly; a card only exists once the canvas service accepted it, and
// the card_created event is what mirrors it into the graph.
type CardWriter struct {
	canvas CanvasAPI
	events *bus.Bus
	logger *slog.Logger
}

// NewCardWriter wires a writer.
func NewCardWriter(canvasAPI CanvasAPI, events *bus.Bus, logger *slog.Logger) *CardWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CardWriter{canvas: canvasAPI, events: events, logger: logger.With("component", "card_writer")}
}

// CreateCard creates a card and emits card_created. The event metadata
// carries the card's source so subscribers can tell model-produced cards
// from user ones; the background agent relies on it to not chase its own
// artifacts.
func (w *CardWriter) CreateCard(ctx context.Context, card *models.Card) (*models.Card, error) {
	created, err := w.canvas.CreateCard(ctx, card)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if created.SourceURL != "" || created.SourceType != "" {
		meta = make(map[string]any, 2)
		if created.SourceURL != "" {
			meta["source_url"] = created.SourceURL
		}
		if created.SourceType != "" {
			meta["source"] = string(created.SourceType)
		}
	}
	w.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID:   created.ID,
		CanvasID: created.CanvasID,
		Title:    created.Title,
		Content:  created.Content,
		Metadata: meta,
	})
	return created, nil
}

// CreateChild creates a card parented under parentID and connects the two
// with a typed edge. The connection degrades to a warning on failure: the
// card exists either way.
func (w *CardWriter) CreateChild(ctx context.Context, parentID string, card *models.Card,
	connType models.ConnectionType) (*models.Card, error) {
	card.ParentID = &parentID
	created, err := w.CreateCard(ctx, card)
	if err != nil {
		return nil, err
	}
	w.Connect(ctx, created.CanvasID, parentID, created.ID, connType, nil)
	return created, nil
}

// Connect creates a typed connection and emits connection_created. Failures
// are logged, not returned: edge loss is recoverable (the sync service can
// infer similar edges later), card loss is not.
func (w *CardWriter) Connect(ctx context.Context, canvasID, sourceID, targetID string,
	typ models.ConnectionType, score *float64) {
	_, err := w.canvas.CreateConnection(ctx, &models.Connection{
		CanvasID:        canvasID,
		SourceID:        sourceID,
		TargetID:        targetID,
		Type:            typ,
		SimilarityScore: score,
	})
	if err != nil {
		w.logger.Warn("failed to create connection",
			"source", sourceID, "target", targetID, "type", typ, "error", err)
		return
	}
	w.events.Emit(bus.TopicConnectionCreated, bus.ConnectionCreatedPayload{
		SourceID:        sourceID,
		TargetID:        targetID,
		CanvasID:        canvasID,
		ConnectionType:  string(typ),
		SimilarityScore: score,
	})
}

// UpdateCard updates a card and emits card_updated. Metadata rides the
// event for the sync service (a "category" key is treated as a user
// correction there).
func (w *CardWriter) UpdateCard(ctx context.Context, card *models.Card, meta map[string]any) (*models.Card, error) {
	updated, err := w.canvas.UpdateCard(ctx, card)
	if err != nil {
		return nil, err
	}
	if updated.SourceType != "" {
		merged := make(map[string]any, len(meta)+1)
		for k, v := range meta {
			merged[k] = v
		}
		merged["source"] = string(updated.SourceType)
		meta = merged
	}
	w.events.Emit(bus.TopicCardUpdated, bus.CardUpdatedPayload{
		CardID:   updated.ID,
		CanvasID: updated.CanvasID,
		Title:    updated.Title,
		Content:  updated.Content,
		Metadata: meta,
	})
	return updated, nil
}

// DeleteCard deletes a card and emits card_deleted.
func (w *CardWriter) DeleteCard(ctx context.Context, id, canvasID string) error {
	if err := w.canvas.DeleteCard(ctx, id); err != nil {
		return err
	}
	w.events.Emit(bus.TopicCardDeleted, bus.CardDeletedPayload{CardID: id, CanvasID: canvasID})
	return nil
}
