package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

const growConceptsPrompt = `You expand a note into its key concepts for a mind-mapping canvas.

Given a card's title and content, identify the most important distinct concepts it contains or implies. For each concept write a short title and 2-4 sentences of standalone content a learner could read without the original card.

Respond with a single JSON object and nothing else:
{"concepts": [{"title": "...", "content": "..."}]}`

const mergeCardsPrompt = `You merge two overlapping notes into one.

Combine the information from both cards into a single coherent text. Keep every distinct fact, drop exact repetition, and preserve the clearer phrasing when the cards disagree on wording. Respond with the merged text only, no preamble.`

const conflictCheckPrompt = `You check whether two notes contradict each other.

Two notes conflict when they make incompatible factual claims about the same subject, not merely when they cover different aspects of it.

Respond with a single JSON object and nothing else:
{"conflict": true|false, "explanation": "one sentence, empty when no conflict"}`

// KnowledgeTools operates on the knowledge graph: similarity queries,
// placement, connections, categorization, growth, merging and conflict
// detection.
type KnowledgeTools struct {
	state      GraphState
	categories Categorizer
	writer     *CardWriter
	canvas     CanvasAPI
	embedder   llm.Embedder
	client     llm.Client
	runner     Runner
	thresholds *config.Thresholds
	logger     *slog.Logger
}

// NewKnowledgeTools wires the knowledge-graph tool set.
func NewKnowledgeTools(state GraphState, categories Categorizer, writer *CardWriter,
	canvasAPI CanvasAPI, embedder llm.Embedder, client llm.Client, runner Runner,
	thresholds *config.Thresholds, logger *slog.Logger) *KnowledgeTools {
	if thresholds == nil {
		thresholds = config.DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeTools{
		state:      state,
		categories: categories,
		writer:     writer,
		canvas:     canvasAPI,
		embedder:   embedder,
		client:     client,
		runner:     runner,
		thresholds: thresholds,
		logger:     logger.With("component", "knowledge_tools"),
	}
}

// Register adds the knowledge tools to the registry.
func (t *KnowledgeTools) Register(r *Registry) error {
	tools := []Tool{
		{
			Name:        NameFindSimilarCards,
			Description: "Find cards most similar to a given card, with similarity scores.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to search around"},
					"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum results, default 5"}
				},
				"required": ["card_id"]
			}`,
			Handler: t.findSimilarCards,
		},
		{
			Name:        NameSuggestCardPlacement,
			Description: "Suggest the best parent card for a card or for new content, based on semantic similarity within its learning category.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "Existing card to place"},
					"content": {"type": "string", "description": "New content to place when no card exists yet"},
					"canvas_id": {"type": "string", "description": "The canvas being organized"}
				}
			}`,
			Handler: t.suggestCardPlacement,
		},
		{
			Name:        NameCreateIntelligentConnections,
			Description: "Create connections from a card to its strongest semantic matches that are not yet connected.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to connect"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"},
					"max_connections": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Cap on new connections, default 3"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.createIntelligentConnections,
		},
		{
			Name:        NameCategorizeCard,
			Description: "Classify a card into a learning category, creating a new category when none fits.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to categorize"}
				},
				"required": ["card_id"]
			}`,
			Handler: t.categorizeCard,
		},
		{
			Name:        NameGrowCardContent,
			Description: "Expand a card into child cards, one per key concept it contains.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to expand"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"},
					"num_concepts": {"type": "integer", "minimum": 1, "maximum": 10, "description": "How many concepts to extract, default 3"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.growCardContent,
		},
		{
			Name:        NameMergeCards,
			Description: "Merge a duplicate card into a primary card: combined content, united tags and sources, duplicate deleted.",
			Schema: `{
				"type": "object",
				"properties": {
					"primary_card_id": {"type": "string", "description": "The card that survives"},
					"duplicate_card_id": {"type": "string", "description": "The card merged away"},
					"canvas_id": {"type": "string", "description": "The canvas both cards live on"}
				},
				"required": ["primary_card_id", "duplicate_card_id", "canvas_id"]
			}`,
			Handler: t.mergeCards,
		},
		{
			Name:        NameDetectConflicts,
			Description: "Check whether a card contradicts any of its semantically close cards, flagging confirmed conflicts.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to check"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.detectConflicts,
		},
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (t *KnowledgeTools) findSimilarCards(ctx context.Context, args Args) (map[string]any, error) {
	cardID := args.String("card_id")
	limit := args.IntOr("limit", 5)

	sims, err := t.state.FindSimilar(ctx, cardID, limit)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			return Fail(fmt.Sprintf("card %s is not in the knowledge graph yet", cardID)), nil
		}
		return nil, err
	}

	out := make([]map[string]any, 0, len(sims))
	for _, sim := range sims {
		item := map[string]any{"card_id": sim.NodeID, "score": sim.Score}
		if node, err := t.state.GetCard(ctx, sim.NodeID); err == nil && node.Title != "" {
			item["title"] = node.Title
		}
		out = append(out, item)
	}
	return OK(map[string]any{"card_id": cardID, "similar": out, "count": len(out)}), nil
}

func (t *KnowledgeTools) suggestCardPlacement(ctx context.Context, args Args) (map[string]any, error) {
	embedding, category, err := t.placementAnchor(ctx, args)
	if err != nil {
		return Fail(err.Error()), nil
	}

	candidate, err := t.state.FindParentCandidate(ctx, embedding, category, t.thresholds.MinParent)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return OK(map[string]any{
			"parent_card_id": nil,
			"category":       category,
			"message":        "no existing card is a suitable parent",
		}), nil
	}
	return OK(map[string]any{
		"parent_card_id": candidate.NodeID,
		"score":          candidate.Score,
		"category":       category,
	}), nil
}

// placementAnchor resolves the embedding and category to place against:
// an existing card's stored ones, or fresh ones for raw content.
func (t *KnowledgeTools) placementAnchor(ctx context.Context, args Args) ([]float32, string, error) {
	if cardID := args.String("card_id"); cardID != "" {
		node, err := t.state.GetCard(ctx, cardID)
		if err != nil {
			return nil, "", fmt.Errorf("card %s is not in the knowledge graph yet", cardID)
		}
		return node.Embedding, node.Category, nil
	}

	content := args.String("content")
	if content == "" {
		return nil, "", errors.New("either card_id or content is required")
	}
	vecs, err := t.embedder.Embed(ctx, []string{content})
	if err != nil || len(vecs) == 0 {
		return nil, "", fmt.Errorf("could not embed content: %v", err)
	}
	category := ""
	if profile, score := t.categories.SemanticMatch(vecs[0]); profile != nil && score >= t.thresholds.MinParent {
		category = profile.Name
	}
	return vecs[0], category, nil
}

func (t *KnowledgeTools) createIntelligentConnections(ctx context.Context, args Args) (map[string]any, error) {
	cardID := args.String("card_id")
	canvasID := args.String("canvas_id")
	maxConns := args.IntOr("max_connections", 3)

	sims, err := t.state.FindSimilar(ctx, cardID, maxConns*3)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			return Fail(fmt.Sprintf("card %s is not in the knowledge graph yet", cardID)), nil
		}
		return nil, err
	}

	existing, err := t.connectedSet(ctx, canvasID, cardID)
	if err != nil {
		return nil, err
	}

	created := make([]map[string]any, 0, maxConns)
	for _, sim := range sims {
		if len(created) == maxConns {
			break
		}
		if sim.Score < t.thresholds.StrongConn || existing[sim.NodeID] {
			continue
		}
		score := sim.Score
		t.writer.Connect(ctx, canvasID, cardID, sim.NodeID, models.ConnectionTypeRelated, &score)
		created = append(created, map[string]any{"target_card_id": sim.NodeID, "score": sim.Score})
	}

	return OK(map[string]any{
		"card_id":     cardID,
		"connections": created,
		"count":       len(created),
	}), nil
}

// connectedSet lists the cards already connected to cardID in either
// direction.
func (t *KnowledgeTools) connectedSet(ctx context.Context, canvasID, cardID string) (map[string]bool, error) {
	conns, err := t.canvas.ListConnections(ctx, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	set := make(map[string]bool)
	for _, c := range conns {
		switch cardID {
		case c.SourceID:
			set[c.TargetID] = true
		case c.TargetID:
			set[c.SourceID] = true
		}
	}
	return set, nil
}

func (t *KnowledgeTools) categorizeCard(ctx context.Context, args Args) (map[string]any, error) {
	cardID := args.String("card_id")
	node, err := t.state.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			return Fail(fmt.Sprintf("card %s is not in the knowledge graph yet", cardID)), nil
		}
		return nil, err
	}

	text := node.Content
	if node.Title != "" {
		text = node.Title + "\n\n" + node.Content
	}
	decision, _, err := t.categories.Classify(ctx, text, node.Embedding)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	name, err := t.categories.Assign(ctx, text, node.Embedding, decision)
	if err != nil {
		return nil, fmt.Errorf("assign category: %w", err)
	}
	if err := t.state.SetCategory(ctx, cardID, name); err != nil {
		return nil, fmt.Errorf("set category: %w", err)
	}

	return OK(map[string]any{
		"card_id":    cardID,
		"category":   name,
		"action":     string(decision.Action),
		"confidence": decision.Confidence,
	}), nil
}

type conceptList struct {
	Concepts []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"concepts"`
}

func (t *KnowledgeTools) growCardContent(ctx context.Context, args Args) (map[string]any, error) {
	cardID := args.String("card_id")
	canvasID := args.String("canvas_id")
	numConcepts := args.IntOr("num_concepts", 3)

	card, err := t.canvas.GetCard(ctx, cardID)
	if err != nil {
		return Fail(fmt.Sprintf("could not load card %s: %s", cardID, err)), nil
	}

	op := models.Operation{
		OperationID:   uuid.NewString(),
		OperationType: models.OperationTypeCardGrowth,
		CanvasID:      canvasID,
		SessionID:     args.String("session_id"),
	}

	var createdIDs []string
	err = t.runner.Execute(ctx, op, func(ctx context.Context, tracker *progress.Tracker) error {
		tracker.Update(ctx, "analyzing", 0.2, fmt.Sprintf("Identifying key concepts in %q", card.Title))

		prompt := fmt.Sprintf("Extract up to %d key concepts.\n\nTitle: %s\n\nContent:\n%s",
			numConcepts, card.Title, card.Content)
		concepts, err := askJSON[conceptList](ctx, t.client, growConceptsPrompt, prompt, 0)
		if err != nil {
			return fmt.Errorf("concept extraction: %w", err)
		}
		if len(concepts.Concepts) == 0 {
			return errors.New("the card yields no expandable concepts")
		}
		if len(concepts.Concepts) > numConcepts {
			concepts.Concepts = concepts.Concepts[:numConcepts]
		}

		total := len(concepts.Concepts)
		for i, concept := range concepts.Concepts {
			if err := ctx.Err(); err != nil {
				return err
			}
			child, err := t.writer.CreateChild(ctx, card.ID, &models.Card{
				CanvasID:   canvasID,
				Title:      concept.Title,
				Content:    concept.Content,
				CardType:   models.CardTypeRichText,
				SourceType: models.SourceTypeAIGenerated,
			}, models.ConnectionTypeParentChild)
			if err != nil {
				return fmt.Errorf("create concept card %q: %w", concept.Title, err)
			}
			createdIDs = append(createdIDs, child.ID)
			tracker.Update(ctx, "creating_cards", 0.3+0.6*float64(i+1)/float64(total),
				fmt.Sprintf("Created concept card %q", concept.Title), child.ID)
		}

		tracker.Complete(ctx, fmt.Sprintf("Created %d concept cards under %q", total, card.Title))
		return nil
	})
	if err != nil {
		out := Fail(fmt.Sprintf("card growth failed: %s", err))
		out["operation_id"] = op.OperationID
		if len(createdIDs) > 0 {
			out["cards_created"] = createdIDs
		}
		return out, nil
	}

	return OK(map[string]any{
		"operation_id":   op.OperationID,
		"parent_card_id": card.ID,
		"cards_created":  createdIDs,
	}), nil
}

func (t *KnowledgeTools) mergeCards(ctx context.Context, args Args) (map[string]any, error) {
	primaryID := args.String("primary_card_id")
	duplicateID := args.String("duplicate_card_id")
	canvasID := args.String("canvas_id")
	if primaryID == duplicateID {
		return Fail("primary and duplicate are the same card"), nil
	}

	primary, err := t.canvas.GetCard(ctx, primaryID)
	if err != nil {
		return Fail(fmt.Sprintf("could not load primary card: %s", err)), nil
	}
	duplicate, err := t.canvas.GetCard(ctx, duplicateID)
	if err != nil {
		return Fail(fmt.Sprintf("could not load duplicate card: %s", err)), nil
	}

	merged := t.mergeContent(ctx, primary, duplicate)
	primary.Content = merged
	primary.Tags = unionStrings(primary.Tags, duplicate.Tags)
	primary.Sources = unionStrings(primary.Sources, duplicate.Sources)
	if duplicate.SourceURL != "" && duplicate.SourceURL != primary.SourceURL {
		primary.Sources = unionStrings(primary.Sources, []string{duplicate.SourceURL})
	}

	if _, err := t.writer.UpdateCard(ctx, primary, map[string]any{"merged_from": duplicateID}); err != nil {
		return nil, fmt.Errorf("update primary card: %w", err)
	}
	if err := t.writer.DeleteCard(ctx, duplicateID, canvasID); err != nil {
		return nil, fmt.Errorf("delete duplicate card: %w", err)
	}

	return OK(map[string]any{
		"merged_into": primaryID,
		"deleted":     duplicateID,
	}), nil
}

// mergeContent asks the model for a coherent merge and falls back to
// concatenation when the model is unavailable.
func (t *KnowledgeTools) mergeContent(ctx context.Context, primary, duplicate *models.Card) string {
	prompt := fmt.Sprintf("Card A (%s):\n%s\n\nCard B (%s):\n%s",
		primary.Title, primary.Content, duplicate.Title, duplicate.Content)
	merged, err := askText(ctx, t.client, mergeCardsPrompt, prompt, 0)
	if err != nil || strings.TrimSpace(merged) == "" {
		t.logger.Warn("merge text generation failed, concatenating", "error", err)
		return primary.Content + "\n\n" + duplicate.Content
	}
	return strings.TrimSpace(merged)
}

type conflictVerdict struct {
	Conflict    bool   `json:"conflict"`
	Explanation string `json:"explanation"`
}

func (t *KnowledgeTools) detectConflicts(ctx context.Context, args Args) (map[string]any, error) {
	cardID := args.String("card_id")
	canvasID := args.String("canvas_id")

	node, err := t.state.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			return Fail(fmt.Sprintf("card %s is not in the knowledge graph yet", cardID)), nil
		}
		return nil, err
	}

	sims, err := t.state.FindSimilar(ctx, cardID, 10)
	if err != nil {
		return nil, err
	}

	var conflicts []map[string]any
	for _, sim := range sims {
		if sim.Score < t.thresholds.Conflict {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		other, err := t.state.GetCard(ctx, sim.NodeID)
		if err != nil {
			continue
		}
		prompt := fmt.Sprintf("Note A (%s):\n%s\n\nNote B (%s):\n%s",
			node.Title, node.Content, other.Title, other.Content)
		verdict, err := askJSON[conflictVerdict](ctx, t.client, conflictCheckPrompt, prompt, 0)
		if err != nil {
			t.logger.Warn("conflict check failed", "card", cardID, "other", sim.NodeID, "error", err)
			continue
		}
		if !verdict.Conflict {
			continue
		}
		conflicts = append(conflicts, map[string]any{
			"card_id":     sim.NodeID,
			"explanation": verdict.Explanation,
		})
		t.flagConflict(ctx, cardID, sim.NodeID)
	}

	return OK(map[string]any{
		"card_id":   cardID,
		"canvas_id": canvasID,
		"conflicts": conflicts,
		"count":     len(conflicts),
	}), nil
}

// flagConflict marks both cards on the canvas. Flag loss is tolerable; the
// conflicts are still reported in the tool result.
func (t *KnowledgeTools) flagConflict(ctx context.Context, cardID, otherID string) {
	for id, other := range map[string]string{cardID: otherID, otherID: cardID} {
		card, err := t.canvas.GetCard(ctx, id)
		if err != nil {
			t.logger.Warn("could not load card to flag conflict", "card_id", id, "error", err)
			continue
		}
		if card.HasConflict {
			continue
		}
		card.HasConflict = true
		if _, err := t.writer.UpdateCard(ctx, card, map[string]any{"conflict_with": other}); err != nil {
			t.logger.Warn("could not flag conflict", "card_id", id, "error", err)
		}
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
