package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/tools"
)

// enrichmentCooldown suppresses repeat passes over the same card. The
// conflict scan updates the cards it flags, which re-emits card_updated;
// without the cooldown those echoes would feed the agent its own output.
const enrichmentCooldown = 10 * time.Minute

// Per-pass artifact caps.
const (
	maxQuestions = 3
	maxTodos     = 5
	maxDeadlines = 3
	maxEntities  = 5
)

// Background is the background-intelligence agent. Subscribed to
// card_created and card_updated, it inspects each card and picks which
// enrichments apply: learning questions, todos, deadlines, named entities,
// duplicate flags, contradiction flags. Every artifact is a child card
// with a typed edge; duplicates are only flagged, never merged.
type Background struct {
	client     llm.Client
	canvas     tools.CanvasAPI
	runner     controller.ToolRunner
	writer     *tools.CardWriter
	events     *bus.Bus
	thresholds *config.Thresholds
	logger     *slog.Logger

	subs []*bus.Subscription

	mu     sync.Mutex
	recent map[string]time.Time
}

// NewBackground wires the background agent. runner executes the
// similarity and conflict tools against the shared registry.
func NewBackground(
	client llm.Client,
	canvasAPI tools.CanvasAPI,
	runner controller.ToolRunner,
	writer *tools.CardWriter,
	events *bus.Bus,
	thresholds *config.Thresholds,
	logger *slog.Logger,
) *Background {
	if thresholds == nil {
		thresholds = config.DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{
		client:     client,
		canvas:     canvasAPI,
		runner:     runner,
		writer:     writer,
		events:     events,
		thresholds: thresholds,
		logger:     logger.With("component", "background_agent"),
		recent:     make(map[string]time.Time),
	}
}

// Start subscribes the agent to card events. Events are handled one at a
// time in emission order, which rate-limits the enrichment passes.
func (b *Background) Start() {
	b.subs = append(b.subs,
		b.events.Subscribe(bus.TopicCardCreated, "background_intelligence", b.onCardEvent),
		b.events.Subscribe(bus.TopicCardUpdated, "background_intelligence", b.onCardEvent),
	)
	b.logger.Info("background intelligence started")
}

// Stop unsubscribes from card events.
func (b *Background) Stop() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
	b.logger.Info("background intelligence stopped")
}

func (b *Background) onCardEvent(ctx context.Context, ev bus.Event) {
	var cardID, canvasID, title, content string
	var meta map[string]any

	switch p := ev.Payload.(type) {
	case bus.CardCreatedPayload:
		cardID, canvasID, title, content, meta = p.CardID, p.CanvasID, p.Title, p.Content, p.Metadata
	case bus.CardUpdatedPayload:
		cardID, canvasID, title, content, meta = p.CardID, p.CanvasID, p.Title, p.Content, p.Metadata
	default:
		return
	}

	if cardID == "" || canvasID == "" {
		return
	}
	if source, _ := meta["source"].(string); source == string(models.SourceTypeAIGenerated) {
		return
	}
	// Flag and correction updates carry markers instead of new content.
	if _, ok := meta["conflict_with"]; ok {
		return
	}
	if _, ok := meta["category"]; ok {
		return
	}
	if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
		return
	}
	if !b.begin(cardID) {
		b.logger.Debug("card in enrichment cooldown", "card_id", cardID)
		return
	}

	artifacts, err := b.enrich(ctx, canvasID, cardID, title, content)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("background pass failed", "card_id", cardID, "error", err)
		return
	}
	if len(artifacts) > 0 {
		b.logger.Info("card enriched",
			"card_id", cardID, "canvas_id", canvasID, "artifacts", strings.Join(artifacts, "; "))
	}
}

// EnrichOnDemand runs the enrichment pass from a chat turn. With a card id
// it enriches that card; without one it enriches the most recently updated
// user cards on the canvas.
func (b *Background) EnrichOnDemand(ctx context.Context, canvasID, cardID string) (string, error) {
	if cardID != "" {
		card, err := b.canvas.GetCard(ctx, cardID)
		if err != nil {
			return "", fmt.Errorf("agent: load card for enrichment: %w", err)
		}
		b.begin(cardID)
		artifacts, err := b.enrich(ctx, canvasID, cardID, card.Title, card.Content)
		if err != nil {
			return "", err
		}
		return enrichmentReport(card.Title, artifacts), nil
	}

	cards, err := b.canvas.ListCards(ctx, canvasID)
	if err != nil {
		return "", fmt.Errorf("agent: list cards for enrichment: %w", err)
	}
	targets := recentUserCards(cards, 3)
	if len(targets) == 0 {
		return "I found no cards to enrich on this canvas.", nil
	}

	var lines []string
	for _, card := range targets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b.begin(card.ID)
		artifacts, err := b.enrich(ctx, canvasID, card.ID, card.Title, card.Content)
		if err != nil {
			b.logger.Warn("on-demand enrichment failed", "card_id", card.ID, "error", err)
			continue
		}
		lines = append(lines, enrichmentReport(card.Title, artifacts))
	}
	if len(lines) == 0 {
		return "I could not enrich any cards this time.", nil
	}
	return strings.Join(lines, "\n"), nil
}

// begin starts a pass unless the card is in cooldown. The cooldown is
// taken before the pass so events emitted during it are suppressed too.
func (b *Background) begin(cardID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.recent[cardID]; ok && time.Since(t) < enrichmentCooldown {
		return false
	}
	if len(b.recent) > 1024 {
		for id, t := range b.recent {
			if time.Since(t) >= enrichmentCooldown {
				delete(b.recent, id)
			}
		}
	}
	b.recent[cardID] = time.Now()
	return true
}

// enrich is one pass over one card. The model call runs first; by the time
// the similarity scans need the card, the sync service has normally
// mirrored it into the graph, and a miss just skips those scans.
func (b *Background) enrich(ctx context.Context, canvasID, cardID, title, content string) ([]string, error) {
	var artifacts []string

	plan, err := b.askEnrichments(ctx, title, content)
	if err != nil {
		if ctx.Err() != nil {
			return artifacts, ctx.Err()
		}
		b.logger.Warn("enrichment analysis failed", "card_id", cardID, "error", err)
	} else {
		artifacts = append(artifacts, b.apply(ctx, canvasID, cardID, title, plan)...)
	}

	if err := ctx.Err(); err != nil {
		return artifacts, err
	}
	if a := b.flagDuplicate(ctx, canvasID, cardID); a != "" {
		artifacts = append(artifacts, a)
	}
	if err := ctx.Err(); err != nil {
		return artifacts, err
	}
	if a := b.flagContradictions(ctx, canvasID, cardID); a != "" {
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

type enrichmentPlan struct {
	Questions []string       `json:"questions"`
	Todos     []todoItem     `json:"todos"`
	Deadlines []deadlineItem `json:"deadlines"`
	Entities  []entityItem   `json:"entities"`
}

type todoItem struct {
	Text string `json:"text"`
}

type deadlineItem struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

type entityItem struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (b *Background) askEnrichments(ctx context.Context, title, content string) (*enrichmentPlan, error) {
	ch, err := b.client.Generate(ctx, &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: enrichmentSystem},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Title: %s\n\n%s", title, content)},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}
	res, err := llm.Collect(ctx, ch)
	if err != nil {
		return nil, err
	}
	var plan enrichmentPlan
	if err := llm.ExtractJSON(res.Text, &plan); err != nil {
		return nil, fmt.Errorf("parse enrichment plan: %w", err)
	}
	return &plan, nil
}

// apply creates the planned artifact cards. Each enrichment kind becomes
// one child card (one reminder per deadline); failures degrade to warnings
// so one lost artifact does not void the pass.
func (b *Background) apply(ctx context.Context, canvasID, cardID, title string, plan *enrichmentPlan) []string {
	var artifacts []string
	label := cardLabel(title)

	if questions := capStrings(plan.Questions, maxQuestions); len(questions) > 0 {
		card := &models.Card{
			CanvasID:   canvasID,
			Title:      "Questions: " + label,
			Content:    "- " + strings.Join(questions, "\n- "),
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"question"},
		}
		if _, err := b.writer.CreateChild(ctx, cardID, card, models.ConnectionTypeRelated); err != nil {
			b.logger.Warn("failed to create questions card", "card_id", cardID, "error", err)
		} else {
			artifacts = append(artifacts, fmt.Sprintf("%d learning questions", len(questions)))
		}
	}

	if todos := capTodos(plan.Todos, maxTodos); len(todos) > 0 {
		items := make([]map[string]any, 0, len(todos))
		for _, todo := range todos {
			items = append(items, map[string]any{"text": todo, "done": false})
		}
		card := &models.Card{
			CanvasID:   canvasID,
			Title:      "Todos: " + label,
			CardType:   models.CardTypeTodo,
			CardData:   map[string]any{"items": items},
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"todo"},
		}
		if _, err := b.writer.CreateChild(ctx, cardID, card, models.ConnectionTypeParentChild); err != nil {
			b.logger.Warn("failed to create todos card", "card_id", cardID, "error", err)
		} else {
			artifacts = append(artifacts, fmt.Sprintf("%d todos", len(todos)))
		}
	}

	reminders := 0
	for i, deadline := range plan.Deadlines {
		if i == maxDeadlines {
			break
		}
		if strings.TrimSpace(deadline.Date) == "" {
			continue
		}
		description := strings.TrimSpace(deadline.Description)
		if description == "" {
			description = "Deadline from " + label
		}
		card := &models.Card{
			CanvasID:   canvasID,
			Title:      "Reminder: " + description,
			Content:    fmt.Sprintf("%s is due on %s.", description, deadline.Date),
			CardType:   models.CardTypeReminder,
			CardData:   map[string]any{"due_date": deadline.Date, "description": description},
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"reminder"},
		}
		if _, err := b.writer.CreateChild(ctx, cardID, card, models.ConnectionTypeParentChild); err != nil {
			b.logger.Warn("failed to create reminder card", "card_id", cardID, "error", err)
			continue
		}
		reminders++
	}
	if reminders > 0 {
		artifacts = append(artifacts, fmt.Sprintf("%d reminders", reminders))
	}

	if entities := capEntities(plan.Entities, maxEntities); len(entities) > 0 {
		card := &models.Card{
			CanvasID:   canvasID,
			Title:      "Mentioned in: " + label,
			Content:    "- " + strings.Join(entities, "\n- "),
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"entities"},
		}
		if _, err := b.writer.CreateChild(ctx, cardID, card, models.ConnectionTypeMentions); err != nil {
			b.logger.Warn("failed to create entities card", "card_id", cardID, "error", err)
		} else {
			artifacts = append(artifacts, fmt.Sprintf("%d named entities", len(entities)))
		}
	}

	return artifacts
}

// flagDuplicate raises a flag for the strongest duplicate candidate: a
// child card describing it plus a suggested similar-edge. Merging stays
// with the user.
func (b *Background) flagDuplicate(ctx context.Context, canvasID, cardID string) string {
	exec, err := b.execute(ctx, tools.NameFindSimilarCards, map[string]any{
		"card_id":   cardID,
		"canvas_id": canvasID,
		"limit":     3,
	})
	if err != nil || !exec.Success() {
		return ""
	}
	similar, _ := exec.Result["similar"].([]map[string]any)

	for _, item := range similar {
		score, _ := item["score"].(float64)
		if score < b.thresholds.Duplicate {
			continue
		}
		otherID, _ := item["card_id"].(string)
		otherTitle, _ := item["title"].(string)
		if otherTitle == "" {
			otherTitle = otherID
		}

		card := &models.Card{
			CanvasID: canvasID,
			Title:    "Possible duplicate: " + otherTitle,
			Content: fmt.Sprintf("This note looks like a duplicate of %q (similarity %.2f). Review the two and merge them yourself if they say the same thing.",
				otherTitle, score),
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"duplicate"},
		}
		if _, err := b.writer.CreateChild(ctx, cardID, card, models.ConnectionTypeParentChild); err != nil {
			b.logger.Warn("failed to create duplicate flag", "card_id", cardID, "error", err)
			return ""
		}
		b.events.Emit(bus.TopicConnectionSuggested, bus.ConnectionSuggestedPayload{
			SourceID:       cardID,
			TargetID:       otherID,
			CanvasID:       canvasID,
			ConnectionType: string(models.ConnectionTypeSimilar),
			Score:          score,
		})
		return fmt.Sprintf("duplicate flag (similar to %q)", otherTitle)
	}
	return ""
}

// flagContradictions delegates to the conflict-detection tool, which marks
// both sides of every contradiction it finds.
func (b *Background) flagContradictions(ctx context.Context, canvasID, cardID string) string {
	exec, err := b.execute(ctx, tools.NameDetectConflicts, map[string]any{
		"card_id":   cardID,
		"canvas_id": canvasID,
	})
	if err != nil || !exec.Success() {
		return ""
	}
	count := cardCount(exec.Result["count"])
	if count == 0 {
		return ""
	}
	return fmt.Sprintf("contradiction flags on %d pairs", count)
}

func (b *Background) execute(ctx context.Context, name string, args map[string]any) (*tools.Execution, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	exec, err := b.runner.Execute(ctx, llm.ToolCall{Name: name, Arguments: string(raw)})
	if err != nil {
		return nil, err
	}
	if !exec.Success() {
		message, _ := exec.Result["error"].(string)
		b.logger.Debug("background tool declined", "tool", name, "reason", message)
	}
	return exec, nil
}

func enrichmentReport(title string, artifacts []string) string {
	label := cardLabel(title)
	if len(artifacts) == 0 {
		return fmt.Sprintf("%q needed no enrichment.", label)
	}
	return fmt.Sprintf("For %q I added: %s.", label, strings.Join(artifacts, ", "))
}

// recentUserCards picks up to limit non-generated cards, most recently
// updated first.
func recentUserCards(cards []*models.Card, limit int) []*models.Card {
	user := make([]*models.Card, 0, len(cards))
	for _, card := range cards {
		if card.SourceType == models.SourceTypeAIGenerated {
			continue
		}
		user = append(user, card)
	}
	sortCardsByUpdated(user)
	if len(user) > limit {
		user = user[:limit]
	}
	return user
}

func sortCardsByUpdated(cards []*models.Card) {
	for i := 1; i < len(cards); i++ {
		for j := i; j > 0 && cards[j].UpdatedAt.After(cards[j-1].UpdatedAt); j-- {
			cards[j], cards[j-1] = cards[j-1], cards[j]
		}
	}
}

func cardLabel(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Untitled note"
	}
	return title
}

func capStrings(values []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

func capTodos(todos []todoItem, limit int) []string {
	out := make([]string, 0, limit)
	for _, todo := range todos {
		text := strings.TrimSpace(todo.Text)
		if text == "" {
			continue
		}
		out = append(out, text)
		if len(out) == limit {
			break
		}
	}
	return out
}

func capEntities(entities []entityItem, limit int) []string {
	out := make([]string, 0, limit)
	for _, entity := range entities {
		name := strings.TrimSpace(entity.Name)
		if name == "" {
			continue
		}
		if kind := strings.TrimSpace(entity.Kind); kind != "" {
			name = fmt.Sprintf("%s (%s)", name, kind)
		}
		out = append(out, name)
		if len(out) == limit {
			break
		}
	}
	return out
}
