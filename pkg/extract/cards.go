package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
)

// CanvasAPI is the subset of the canvas client the builder needs.
type CanvasAPI interface {
	CreateCard(ctx context.Context, card *models.Card) (*models.Card, error)
	CreateConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	ListCards(ctx context.Context, canvasID string) ([]*models.Card, error)
}

// CategoryMatcher finds the learning category closest to an embedding.
// Implemented by the category manager.
type CategoryMatcher interface {
	SemanticMatch(embedding []float32) (*models.CategoryProfile, float64)
}

// ParentFinder locates the best parent card within a category. Implemented
// by the knowledge state.
type ParentFinder interface {
	FindParentCandidate(ctx context.Context, embedding []float32, category string, minScore float64) (*models.Similarity, error)
}

// Builder turns extraction payloads into canvas cards, connections, and the
// events that drive knowledge graph sync.
type Builder struct {
	canvas     CanvasAPI
	categories CategoryMatcher
	parents    ParentFinder
	embedder   llm.Embedder
	events     *bus.Bus
	thresholds *config.Thresholds
	logger     *slog.Logger
}

// NewBuilder wires a card builder.
func NewBuilder(canvasAPI CanvasAPI, categories CategoryMatcher, parents ParentFinder,
	embedder llm.Embedder, events *bus.Bus, thresholds *config.Thresholds, logger *slog.Logger) *Builder {
	return &Builder{
		canvas:     canvasAPI,
		categories: categories,
		parents:    parents,
		embedder:   embedder,
		events:     events,
		thresholds: thresholds,
		logger:     logger.With("component", "card_builder"),
	}
}

// BuildResult reports what a build created. On partial failure it carries
// everything created up to the error, so progress tracking stays accurate.
type BuildResult struct {
	ParentCardID string
	CardIDs      []string // every created card, root first
	Connections  int
}

// Build creates the card tree for a payload: a root card, one child per
// section, grouped example cards, and typed connections. When parentID is
// empty a semantic parent is looked up by category; no match leaves the
// root unparented.
func (b *Builder) Build(ctx context.Context, canvasID, parentID string, p *Payload) (*BuildResult, error) {
	if parentID == "" {
		parentID = b.semanticParent(ctx, p)
	}

	content := p.Description
	if content == "" && len(p.Sections) > 0 {
		content = leadText(p.Sections[0].Content, 240)
	}
	root, err := b.createCard(ctx, &models.Card{
		CanvasID:   canvasID,
		Title:      p.Title,
		Content:    content,
		CardType:   cardTypeFor(p),
		ParentID:   optionalID(parentID),
		CardData:   cardDataFor(p),
		SourceURL:  p.URL,
		SourceType: models.SourceTypeURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create root card: %w", err)
	}
	res := &BuildResult{ParentCardID: root.ID, CardIDs: []string{root.ID}}
	if parentID != "" {
		b.connect(ctx, canvasID, parentID, root.ID, models.ConnectionTypeParentChild, nil, res)
	}

	for _, sec := range p.Sections {
		child, err := b.createCard(ctx, &models.Card{
			CanvasID:   canvasID,
			Title:      sec.Heading,
			Content:    sec.Content,
			CardType:   models.CardTypeRichText,
			ParentID:   &root.ID,
			SourceURL:  p.URL,
			SourceType: models.SourceTypeURL,
		})
		if err != nil {
			return res, fmt.Errorf("create section card %q: %w", sec.Heading, err)
		}
		res.CardIDs = append(res.CardIDs, child.ID)
		b.connect(ctx, canvasID, root.ID, child.ID, models.ConnectionTypeParentChild, nil, res)
	}

	if err := b.buildBlockCards(ctx, canvasID, root.ID, p, res); err != nil {
		return res, err
	}
	return res, nil
}

// semanticParent picks a parent card by category match. Failures here are
// logged, never fatal: extraction proceeds with an unparented root.
func (b *Builder) semanticParent(ctx context.Context, p *Payload) string {
	text := strings.TrimSpace(p.Title + "\n" + p.Description)
	if text == "" {
		return ""
	}
	vecs, err := b.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		b.logger.Warn("parent match embedding failed", "url", p.URL, "error", err)
		return ""
	}
	profile, score := b.categories.SemanticMatch(vecs[0])
	if profile == nil || score < b.thresholds.MinParent {
		return ""
	}
	candidate, err := b.parents.FindParentCandidate(ctx, vecs[0], profile.Name, b.thresholds.MinParent)
	if err != nil {
		b.logger.Warn("parent candidate lookup failed", "category", profile.Name, "error", err)
		return ""
	}
	if candidate == nil {
		return ""
	}
	b.logger.Info("semantic parent matched",
		"category", profile.Name, "card_id", candidate.NodeID, "score", candidate.Score)
	return candidate.NodeID
}

// buildBlockCards groups detected blocks under "Examples" / "Patterns"
// cards and links blocks that name an existing card with a demonstrates
// edge.
func (b *Builder) buildBlockCards(ctx context.Context, canvasID, rootID string, p *Payload, res *BuildResult) error {
	if len(p.Blocks) == 0 {
		return nil
	}

	groups := make(map[string][]CodeBlock)
	var order []string
	for _, blk := range p.Blocks {
		title := blk.Kind.GroupTitle()
		if _, ok := groups[title]; !ok {
			order = append(order, title)
		}
		groups[title] = append(groups[title], blk)
	}

	// Snapshot existing titles before adding block cards, so a block can
	// reference section cards created moments ago.
	titleIndex := b.cardTitleIndex(ctx, canvasID)

	for _, groupTitle := range order {
		group, err := b.createCard(ctx, &models.Card{
			CanvasID:   canvasID,
			Title:      groupTitle,
			Content:    fmt.Sprintf("%s extracted from %s", groupTitle, p.URL),
			CardType:   models.CardTypeRichText,
			ParentID:   &rootID,
			SourceURL:  p.URL,
			SourceType: models.SourceTypeURL,
		})
		if err != nil {
			return fmt.Errorf("create %s group card: %w", groupTitle, err)
		}
		res.CardIDs = append(res.CardIDs, group.ID)
		b.connect(ctx, canvasID, rootID, group.ID, models.ConnectionTypeParentChild, nil, res)

		for i, blk := range groups[groupTitle] {
			title := blk.Concept
			if title == "" {
				title = blockTitle(blk.Kind, i+1)
			}
			card, err := b.createCard(ctx, &models.Card{
				CanvasID:   canvasID,
				Title:      title,
				Content:    blk.Content,
				CardType:   models.CardTypeRichText,
				ParentID:   &group.ID,
				SourceURL:  p.URL,
				SourceType: models.SourceTypeURL,
			})
			if err != nil {
				return fmt.Errorf("create block card %q: %w", title, err)
			}
			res.CardIDs = append(res.CardIDs, card.ID)
			b.connect(ctx, canvasID, group.ID, card.ID, models.ConnectionTypeParentChild, nil, res)

			if blk.Concept != "" {
				if conceptID, ok := titleIndex[strings.ToLower(strings.TrimSpace(blk.Concept))]; ok && conceptID != card.ID {
					b.connect(ctx, canvasID, card.ID, conceptID, models.ConnectionTypeDemonstrates, nil, res)
				}
			}
		}
	}
	return nil
}

// createCard creates a card and emits card_created, which is what feeds the
// sync service and ultimately the knowledge graph.
func (b *Builder) createCard(ctx context.Context, card *models.Card) (*models.Card, error) {
	created, err := b.canvas.CreateCard(ctx, card)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if created.SourceURL != "" {
		meta = map[string]any{"source_url": created.SourceURL}
	}
	b.events.Emit(bus.TopicCardCreated, bus.CardCreatedPayload{
		CardID:   created.ID,
		CanvasID: created.CanvasID,
		Title:    created.Title,
		Content:  created.Content,
		Metadata: meta,
	})
	return created, nil
}

// connect creates a typed connection and emits connection_created. A failed
// connection degrades to a warning: the cards exist either way, and the
// sync service can still infer edges later.
func (b *Builder) connect(ctx context.Context, canvasID, sourceID, targetID string,
	typ models.ConnectionType, score *float64, res *BuildResult) {
	_, err := b.canvas.CreateConnection(ctx, &models.Connection{
		CanvasID:        canvasID,
		SourceID:        sourceID,
		TargetID:        targetID,
		Type:            typ,
		SimilarityScore: score,
	})
	if err != nil {
		b.logger.Warn("failed to create connection",
			"source", sourceID, "target", targetID, "type", typ, "error", err)
		return
	}
	b.events.Emit(bus.TopicConnectionCreated, bus.ConnectionCreatedPayload{
		SourceID:        sourceID,
		TargetID:        targetID,
		CanvasID:        canvasID,
		ConnectionType:  string(typ),
		SimilarityScore: score,
	})
	res.Connections++
}

// cardTitleIndex lists existing canvas cards keyed by lowercased title. A
// lookup failure only costs demonstrates edges, not the extraction.
func (b *Builder) cardTitleIndex(ctx context.Context, canvasID string) map[string]string {
	cards, err := b.canvas.ListCards(ctx, canvasID)
	if err != nil {
		b.logger.Warn("failed to list cards for concept matching", "canvas_id", canvasID, "error", err)
		return nil
	}
	index := make(map[string]string, len(cards))
	for _, c := range cards {
		index[strings.ToLower(strings.TrimSpace(c.Title))] = c.ID
	}
	return index
}

func cardTypeFor(p *Payload) models.CardType {
	if p.Type == URLTypeVideo {
		return models.CardTypeVideo
	}
	return models.CardTypeRichText
}

// cardDataFor builds the type-specific payload. Video cards keep enough to
// stay playable on the canvas.
func cardDataFor(p *Payload) map[string]any {
	if p.Type != URLTypeVideo {
		return nil
	}
	data := map[string]any{"video_url": p.URL}
	if p.Video != nil {
		if p.Video.Provider != "" {
			data["provider"] = p.Video.Provider
		}
		if p.Video.VideoID != "" {
			data["video_id"] = p.Video.VideoID
		}
	}
	return data
}

func blockTitle(kind BlockKind, n int) string {
	name := string(kind)
	return fmt.Sprintf("%s%s %d", strings.ToUpper(name[:1]), name[1:], n)
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
