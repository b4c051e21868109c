// Package sync keeps the knowledge graph, the category profiles and the
// retrieval index in step with canvas events.
//
// The service holds a single ordered subscription to the full event
// stream and reacts to the four canvas topics; everything else falls
// through. One ordered stream means a card's create, update and delete
// apply in emission order, which is what makes the graph a faithful
// mirror of the canvas.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/knowledge"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/rag"
	"github.com/viacanvas/intelligence/pkg/vector"
)

// metadataCategoryKey is the card-event metadata key a user-chosen
// category name arrives under. Its presence on card_updated marks the
// change as a user correction rather than a re-classification.
const metadataCategoryKey = "category"

// subscriberName identifies this service in bus diagnostics.
const subscriberName = "graph_sync"

// Service applies canvas events to the knowledge graph and the category
// system and keeps the retrieval index current. The index is optional:
// nil skips indexing.
type Service struct {
	state      *knowledge.State
	categories *category.Manager
	index      rag.Store
	events     *bus.Bus
	logger     *slog.Logger

	sub *bus.Subscription
}

// NewService wires graph state, category manager and an optional
// retrieval index into a sync service. Call Start to begin consuming.
func NewService(state *knowledge.State, categories *category.Manager, index rag.Store, events *bus.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		state:      state,
		categories: categories,
		index:      index,
		events:     events,
		logger:     logger.With("component", subscriberName),
	}
}

// Start subscribes to the event stream. Events queued before Stop (or a
// bus close) are still applied.
func (s *Service) Start() {
	if s.sub != nil {
		return
	}
	s.sub = s.events.Subscribe(bus.TopicAll, subscriberName, s.handle)
	s.logger.Info("graph sync started")
}

// Stop removes the subscription. Safe to call more than once.
func (s *Service) Stop() {
	if s.sub == nil {
		return
	}
	s.sub.Unsubscribe()
	s.sub = nil
	s.logger.Info("graph sync stopped")
}

func (s *Service) handle(ctx context.Context, ev bus.Event) {
	switch ev.Topic {
	case bus.TopicCardCreated:
		if p, ok := ev.Payload.(bus.CardCreatedPayload); ok {
			s.onCardCreated(ctx, p)
		} else {
			s.logger.Warn("unexpected payload type", "topic", ev.Topic, "type", fmt.Sprintf("%T", ev.Payload))
		}
	case bus.TopicCardUpdated:
		if p, ok := ev.Payload.(bus.CardUpdatedPayload); ok {
			s.onCardUpdated(ctx, p)
		} else {
			s.logger.Warn("unexpected payload type", "topic", ev.Topic, "type", fmt.Sprintf("%T", ev.Payload))
		}
	case bus.TopicCardDeleted:
		if p, ok := ev.Payload.(bus.CardDeletedPayload); ok {
			s.onCardDeleted(ctx, p)
		} else {
			s.logger.Warn("unexpected payload type", "topic", ev.Topic, "type", fmt.Sprintf("%T", ev.Payload))
		}
	case bus.TopicConnectionCreated:
		if p, ok := ev.Payload.(bus.ConnectionCreatedPayload); ok {
			s.onConnectionCreated(ctx, p)
		} else {
			s.logger.Warn("unexpected payload type", "topic", ev.Topic, "type", fmt.Sprintf("%T", ev.Payload))
		}
	}
}

// onCardCreated inserts the card, classifies it, and only then emits the
// parent suggestion: by the time the canvas sees the signal, the node
// already carries its category.
func (s *Service) onCardCreated(ctx context.Context, p bus.CardCreatedPayload) {
	res, err := s.state.AddCard(ctx, knowledge.CardInput{
		ID:         p.CardID,
		CanvasID:   p.CanvasID,
		Title:      p.Title,
		Content:    p.Content,
		Attributes: p.Metadata,
	})
	if err != nil {
		s.logger.Error("card_created: graph insert failed", "card_id", p.CardID, "error", err)
		return
	}

	s.classifyAndTag(ctx, p.CardID)
	s.suggestParent(p.CanvasID, res)
	s.reindex(ctx, p.CardID, p.CanvasID, p.Content, p.Metadata)
}

// onCardUpdated rewrites the node. A changed category name in the event
// metadata is a user correction and moves the membership with correction
// counters; otherwise changed content triggers a re-classification. An
// update for a card the graph never saw is applied as a create.
func (s *Service) onCardUpdated(ctx context.Context, p bus.CardUpdatedPayload) {
	node, err := s.state.GetCard(ctx, p.CardID)
	if errors.Is(err, graph.ErrNodeNotFound) {
		s.onCardCreated(ctx, bus.CardCreatedPayload(p))
		return
	}
	if err != nil {
		s.logger.Error("card_updated: graph read failed", "card_id", p.CardID, "error", err)
		return
	}

	oldCategory := node.Category
	contentChanged := knowledge.NormalizeContent(p.Content) != node.Content

	if _, err := s.state.UpdateCard(ctx, knowledge.CardInput{
		ID:         p.CardID,
		CanvasID:   p.CanvasID,
		Title:      p.Title,
		Content:    p.Content,
		Attributes: p.Metadata,
	}); err != nil {
		s.logger.Error("card_updated: graph update failed", "card_id", p.CardID, "error", err)
		return
	}

	if userCategory := metadataCategory(p.Metadata); userCategory != "" && !strings.EqualFold(userCategory, oldCategory) {
		s.correctCategory(ctx, p.CardID, oldCategory, userCategory)
	} else if contentChanged {
		s.reclassify(ctx, p.CardID, oldCategory)
	}

	s.reindex(ctx, p.CardID, p.CanvasID, p.Content, p.Metadata)
}

// onCardDeleted drops the node and its edges, returns the membership to
// the card's profile, and removes its vectors from the retrieval index.
func (s *Service) onCardDeleted(ctx context.Context, p bus.CardDeletedPayload) {
	node, err := s.state.GetCard(ctx, p.CardID)
	switch {
	case errors.Is(err, graph.ErrNodeNotFound):
		s.logger.Debug("card_deleted: card not in graph", "card_id", p.CardID)
	case err != nil:
		s.logger.Error("card_deleted: graph read failed", "card_id", p.CardID, "error", err)
	default:
		if err := s.state.RemoveCard(ctx, p.CardID); err != nil {
			s.logger.Error("card_deleted: graph remove failed", "card_id", p.CardID, "error", err)
		} else {
			s.categories.RemoveMember(node.Category)
		}
	}

	if s.index != nil {
		if err := s.index.DeleteCardIndex(ctx, p.CardID); err != nil {
			s.logger.Warn("card_deleted: index removal failed", "card_id", p.CardID, "error", err)
		}
	}
}

// onConnectionCreated mirrors a canvas connection as a typed edge,
// computing the endpoints' similarity when the event carries none.
func (s *Service) onConnectionCreated(ctx context.Context, p bus.ConnectionCreatedPayload) {
	weight := 0.0
	if p.SimilarityScore != nil {
		weight = *p.SimilarityScore
	} else {
		weight = s.pairSimilarity(ctx, p.SourceID, p.TargetID)
	}

	added, err := s.state.AddTypedEdge(ctx, p.SourceID, p.TargetID, models.ConnectionType(p.ConnectionType), weight)
	if err != nil {
		s.logger.Error("connection_created: edge insert failed",
			"source_id", p.SourceID, "target_id", p.TargetID, "error", err)
		return
	}
	if !added {
		s.logger.Debug("connection_created: edge not applied",
			"source_id", p.SourceID, "target_id", p.TargetID, "type", p.ConnectionType)
	}
}

// classifyAndTag classifies a stored card and writes the resulting
// category onto its node. The embedding computed during the graph insert
// is reused, so the card is embedded exactly once per content version.
// Failures leave the card uncategorized; they never fail the event.
func (s *Service) classifyAndTag(ctx context.Context, cardID string) {
	node, err := s.state.GetCard(ctx, cardID)
	if err != nil {
		s.logger.Warn("classification skipped: card unreadable", "card_id", cardID, "error", err)
		return
	}
	text := classifyText(node.Title, node.Content)
	decision, _, err := s.categories.Classify(ctx, text, node.Embedding)
	if err != nil {
		s.logger.Warn("classification failed", "card_id", cardID, "error", err)
		return
	}
	name, err := s.categories.Assign(ctx, text, node.Embedding, decision)
	if err != nil {
		s.logger.Warn("category assignment failed", "card_id", cardID, "error", err)
		return
	}
	if err := s.state.SetCategory(ctx, cardID, name); err != nil {
		s.logger.Warn("category write failed", "card_id", cardID, "category", name, "error", err)
	}
}

// reclassify runs the classifier over changed content. A decision landing
// on the current category is left alone so the profile counters do not
// count the same card twice; a different category moves the membership,
// decrementing the old profile and growing the new one.
func (s *Service) reclassify(ctx context.Context, cardID, oldCategory string) {
	node, err := s.state.GetCard(ctx, cardID)
	if err != nil {
		s.logger.Warn("re-classification skipped: card unreadable", "card_id", cardID, "error", err)
		return
	}
	text := classifyText(node.Title, node.Content)
	decision, _, err := s.categories.Classify(ctx, text, node.Embedding)
	if err != nil {
		s.logger.Warn("re-classification failed", "card_id", cardID, "error", err)
		return
	}
	if strings.EqualFold(s.decisionName(decision), oldCategory) {
		return
	}
	name, err := s.categories.Assign(ctx, text, node.Embedding, decision)
	if err != nil {
		s.logger.Warn("category assignment failed", "card_id", cardID, "error", err)
		return
	}
	if strings.EqualFold(name, oldCategory) {
		// A name collision inside Assign folded the card back into its
		// old profile; membership did not move.
		return
	}
	s.categories.RemoveMember(oldCategory)
	if err := s.state.SetCategory(ctx, cardID, name); err != nil {
		s.logger.Warn("category write failed", "card_id", cardID, "category", name, "error", err)
		return
	}
	s.logger.Info("card re-classified", "card_id", cardID, "from", oldCategory, "to", name)
}

// correctCategory moves a card between categories at the user's request,
// charging a correction to both profiles.
func (s *Service) correctCategory(ctx context.Context, cardID, fromName, toName string) {
	node, err := s.state.GetCard(ctx, cardID)
	if err != nil {
		s.logger.Warn("correction skipped: card unreadable", "card_id", cardID, "error", err)
		return
	}
	name, err := s.categories.Correct(ctx, classifyText(node.Title, node.Content), node.Embedding, fromName, toName)
	if err != nil {
		s.logger.Warn("category correction failed", "card_id", cardID, "error", err)
		return
	}
	if err := s.state.SetCategory(ctx, cardID, name); err != nil {
		s.logger.Warn("category write failed", "card_id", cardID, "category", name, "error", err)
		return
	}
	s.logger.Info("category corrected", "card_id", cardID, "from", fromName, "to", name)
}

// suggestParent emits the advisory parent-child signal for a freshly
// inserted card. The canvas service decides whether to materialize it; a
// materialized suggestion comes back as connection_created and is
// mirrored like any other connection.
func (s *Service) suggestParent(canvasID string, res *knowledge.AddResult) {
	if res == nil || res.SuggestedParent == "" || s.events == nil {
		return
	}
	score := 0.0
	if len(res.TopSimilar) > 0 {
		score = res.TopSimilar[0].Score
	}
	s.events.Emit(bus.TopicConnectionSuggested, bus.ConnectionSuggestedPayload{
		SourceID:       res.SuggestedParent,
		TargetID:       res.CardID,
		CanvasID:       canvasID,
		ConnectionType: string(models.ConnectionTypeParentChild),
		Score:          score,
	})
}

// reindex refreshes the retrieval index for a card. The indexer's
// content-hash check makes an unchanged re-index free. Failures are
// logged and dropped: retrieval lag must not undo the graph write that
// already happened.
func (s *Service) reindex(ctx context.Context, cardID, canvasID, content string, metadata map[string]any) {
	if s.index == nil || content == "" {
		return
	}
	if err := s.index.IndexCard(ctx, cardID, content, canvasID, rag.EntityTypeCard, metadata, false); err != nil {
		s.logger.Warn("index refresh failed", "card_id", cardID, "error", err)
	}
}

// pairSimilarity is the cosine of the endpoints' stored embeddings. A
// missing endpoint or embedding yields zero weight rather than an error:
// the edge is still worth mirroring.
func (s *Service) pairSimilarity(ctx context.Context, sourceID, targetID string) float64 {
	src, err := s.state.GetCard(ctx, sourceID)
	if err != nil {
		return 0
	}
	dst, err := s.state.GetCard(ctx, targetID)
	if err != nil {
		return 0
	}
	return vector.Cosine(src.Embedding, dst.Embedding)
}

// decisionName resolves the category name a decision would assign without
// applying it. Used to detect no-op re-classifications.
func (s *Service) decisionName(d *category.Decision) string {
	switch d.Action {
	case category.ActionMatch:
		if p, ok := s.categories.Get(d.CategoryID); ok {
			return p.Name
		}
		return models.UncategorizedName
	case category.ActionCreateNew:
		if d.NewCategory != nil {
			return strings.TrimSpace(d.NewCategory.Name)
		}
		return models.UncategorizedName
	default:
		return models.UncategorizedName
	}
}

// classifyText mirrors the embed text: the classifier's lexical stage
// should see the same words the embedding represents.
func classifyText(title, content string) string {
	if title == "" {
		return content
	}
	return title + "\n\n" + content
}

func metadataCategory(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	name, _ := metadata[metadataCategoryKey].(string)
	return strings.TrimSpace(name)
}
