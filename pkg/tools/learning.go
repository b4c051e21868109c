package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

const simplifyPrompt = `You rewrite study notes in plain language.

Rewrite the note for the stated audience. Keep every fact, cut jargon, prefer short sentences, and add one concrete everyday comparison where it helps. Respond with the rewritten text only, no preamble.`

const realExamplesPrompt = `You ground abstract concepts in real-world examples.

For the given note, provide concrete real-world examples: named systems, events, products, or studies that demonstrate the concept in practice. Each example needs a short title and 2-3 sentences on how it demonstrates the concept. Only use examples you are confident are real.

Respond with a single JSON object and nothing else:
{"examples": [{"title": "...", "content": "..."}]}`

const knowledgeGapsPrompt = `You review a learner's canvas for missing foundations.

Given the cards already on the canvas, identify the most important topics the learner has not covered that the existing material depends on or naturally leads to. Skip anything already present.

Respond with a single JSON object and nothing else:
{"gaps": [{"topic": "...", "reason": "one sentence on why it matters here"}]}`

const actionPlanPrompt = `You turn a learning goal into a concrete step-by-step plan.

Write 3-8 ordered steps. Each step is one actionable task a learner can finish in a single sitting, phrased as an imperative.

Respond with a single JSON object and nothing else:
{"title": "...", "steps": ["...", "..."]}`

const canvasAnswerPrompt = `You answer questions using the learner's own notes.

Answer from the provided canvas context when it covers the question. When it does not, say so briefly and answer from general knowledge instead. Keep answers short and concrete.`

const counterpointsPrompt = `You find the strongest counterarguments to a note.

Present the most credible opposing views, limitations, or conflicting evidence for the note's claims. Be specific: name the conditions under which the claim weakens or fails. When the note states settled fact with no serious opposition, say so.

Respond with a single JSON object and nothing else:
{"title": "...", "content": "..."}`

const refreshPrompt = `You update a stale note against a fresh fetch of its source.

Compare the existing note with the new extraction. Rewrite the note to reflect the source's current content, keeping the learner's own framing where it still holds.

Respond with a single JSON object and nothing else:
{"content": "...", "changed": true|false, "summary": "one sentence on what changed, empty when nothing did"}`

const bridgePrompt = `You explain non-obvious links between notes from different subject areas.

Given two notes, state the single most interesting conceptual link between them in one or two sentences. When the link is trivial or forced, say so.

Respond with a single JSON object and nothing else:
{"surprising": true|false, "explanation": "..."}`

const clusterOutlinePrompt = `You design a learning cluster: a small hierarchy of notes introducing a topic.

Produce a root note summarizing the topic, the requested number of subtopic notes, and 1-3 leaf notes per subtopic nailing down specifics. Every note needs a short title and 2-4 sentences of standalone content a learner could read in any order.

Respond with a single JSON object and nothing else:
{"root": {"title": "...", "content": "..."}, "subtopics": [{"title": "...", "content": "...", "leaves": [{"title": "...", "content": "..."}]}]}`

// maxPromptChars bounds card bodies shown to the model; extracted articles
// can run to tens of thousands of characters.
const maxPromptChars = 4000

// LearningTools helps a learner work with what is on the canvas: plain
// rewrites, grounding examples, gap analysis, action plans, canvas Q&A,
// literature search, counterpoints, source refresh, cross-category
// suggestions, and whole learning clusters.
type LearningTools struct {
	client     llm.Client
	rag        Retriever
	canvas     CanvasAPI
	state      GraphState
	writer     *CardWriter
	academic   *AcademicClient
	extractor  Extractor
	runner     Runner
	events     *bus.Bus
	thresholds *config.Thresholds
	ragCfg     *config.RAGConfig
	logger     *slog.Logger
}

// NewLearningTools wires the learning tool set.
func NewLearningTools(client llm.Client, retriever Retriever, canvasAPI CanvasAPI,
	state GraphState, writer *CardWriter, academic *AcademicClient, extractor Extractor,
	runner Runner, events *bus.Bus, thresholds *config.Thresholds, ragCfg *config.RAGConfig,
	logger *slog.Logger) *LearningTools {
	if thresholds == nil {
		thresholds = config.DefaultThresholds()
	}
	if ragCfg == nil {
		ragCfg = config.DefaultRAGConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningTools{
		client:     client,
		rag:        retriever,
		canvas:     canvasAPI,
		state:      state,
		writer:     writer,
		academic:   academic,
		extractor:  extractor,
		runner:     runner,
		events:     events,
		thresholds: thresholds,
		ragCfg:     ragCfg,
		logger:     logger.With("component", "learning_tools"),
	}
}

// Register adds the learning tools to the registry.
func (t *LearningTools) Register(r *Registry) error {
	tools := []Tool{
		{
			Name:        NameSimplifyContent,
			Description: "Rewrite a card in plain language as a child card, preserving every fact.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to simplify"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"},
					"audience": {"type": "string", "description": "Who the rewrite is for, default a beginner"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.simplifyContent,
		},
		{
			Name:        NameFindRealExamples,
			Description: "Attach real-world example cards that demonstrate a card's concept in practice.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The concept card to ground"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"},
					"num_examples": {"type": "integer", "minimum": 1, "maximum": 5, "description": "How many examples, default 3"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.findRealExamples,
		},
		{
			Name:        NameAnalyzeKnowledgeGaps,
			Description: "Identify important topics missing from a canvas given what is already on it.",
			Schema: `{
				"type": "object",
				"properties": {
					"canvas_id": {"type": "string", "description": "The canvas to analyze"},
					"topic": {"type": "string", "description": "Optional focus area to analyze against"}
				},
				"required": ["canvas_id"]
			}`,
			Handler: t.analyzeKnowledgeGaps,
		},
		{
			Name:        NameCreateActionPlan,
			Description: "Turn a learning goal into a todo card with ordered, actionable steps.",
			Schema: `{
				"type": "object",
				"properties": {
					"canvas_id": {"type": "string", "description": "The canvas to place the plan on"},
					"goal": {"type": "string", "description": "The learning goal to plan for"}
				},
				"required": ["canvas_id", "goal"]
			}`,
			Handler: t.createActionPlan,
		},
		{
			Name:        NameAnswerCanvasQuestion,
			Description: "Answer a question using the cards on the canvas as context, citing the cards used.",
			Schema: `{
				"type": "object",
				"properties": {
					"canvas_id": {"type": "string", "description": "The canvas to answer from"},
					"question": {"type": "string", "description": "The question to answer"}
				},
				"required": ["canvas_id", "question"]
			}`,
			Handler: t.answerCanvasQuestion,
		},
		{
			Name:        NameSearchAcademicSources,
			Description: "Search published literature for a topic, optionally attaching a sources card. Falls back to model suggestions marked llm_generated when the search API is unavailable.",
			Schema: `{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The topic to search literature for"},
					"max_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Result cap, default 5"},
					"canvas_id": {"type": "string", "description": "Canvas for the optional sources card"},
					"card_id": {"type": "string", "description": "Card to attach the sources card under"}
				},
				"required": ["query"]
			}`,
			Handler: t.searchAcademicSources,
		},
		{
			Name:        NameFindCounterpoints,
			Description: "Attach a card with the strongest counterarguments to a card's claims, linked with a challenges edge.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to challenge"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.findCounterpoints,
		},
		{
			Name:        NameRefreshInformation,
			Description: "Re-fetch a card's source URL and update the card when the source changed.",
			Schema: `{
				"type": "object",
				"properties": {
					"card_id": {"type": "string", "description": "The card to refresh; must have a source URL"},
					"canvas_id": {"type": "string", "description": "The canvas the card lives on"}
				},
				"required": ["card_id", "canvas_id"]
			}`,
			Handler: t.refreshInformation,
		},
		{
			Name:        NameSurprisingConnections,
			Description: "Suggest non-obvious links between cards from different learning categories. Suggestions are advisory; no connections are created.",
			Schema: `{
				"type": "object",
				"properties": {
					"canvas_id": {"type": "string", "description": "The canvas to scan"},
					"card_id": {"type": "string", "description": "Optional card to anchor the scan on"},
					"max_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Suggestion cap, default 5"}
				},
				"required": ["canvas_id"]
			}`,
			Handler: t.findSurprisingConnections,
		},
		{
			Name:        NameCreateLearningCluster,
			Description: "Build a hierarchical cluster of cards introducing a topic: a root card, subtopic cards, and leaf cards.",
			Schema: `{
				"type": "object",
				"properties": {
					"canvas_id": {"type": "string", "description": "The canvas to build on"},
					"topic": {"type": "string", "description": "The topic the cluster introduces"},
					"num_subtopics": {"type": "integer", "minimum": 2, "maximum": 6, "description": "Subtopic count, default 4"}
				},
				"required": ["canvas_id", "topic"]
			}`,
			Handler: t.createLearningCluster,
		},
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (t *LearningTools) simplifyContent(ctx context.Context, args Args) (map[string]any, error) {
	card, err := t.canvas.GetCard(ctx, args.String("card_id"))
	if err != nil {
		return Fail(fmt.Sprintf("could not load card %s: %s", args.String("card_id"), err)), nil
	}
	audience := args.StringOr("audience", "a beginner")

	user := fmt.Sprintf("Audience: %s\n\nTitle: %s\n\nNote:\n%s",
		audience, card.Title, clipText(card.Content, maxPromptChars))
	text, err := askText(ctx, t.client, simplifyPrompt, user, 0)
	if err != nil {
		return nil, fmt.Errorf("simplify: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Fail("the model produced no simplified text"), nil
	}

	title := "Simplified: " + card.Title
	if card.Title == "" {
		title = "Simplified note"
	}
	child, err := t.writer.CreateChild(ctx, card.ID, &models.Card{
		CanvasID:   args.String("canvas_id"),
		Title:      title,
		Content:    text,
		CardType:   models.CardTypeRichText,
		SourceType: models.SourceTypeAIGenerated,
		Tags:       []string{"simplified"},
	}, models.ConnectionTypeParentChild)
	if err != nil {
		return nil, fmt.Errorf("create simplified card: %w", err)
	}

	return OK(map[string]any{
		"card_id":        child.ID,
		"parent_card_id": card.ID,
		"title":          child.Title,
	}), nil
}

type exampleList struct {
	Examples []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"examples"`
}

func (t *LearningTools) findRealExamples(ctx context.Context, args Args) (map[string]any, error) {
	card, err := t.canvas.GetCard(ctx, args.String("card_id"))
	if err != nil {
		return Fail(fmt.Sprintf("could not load card %s: %s", args.String("card_id"), err)), nil
	}
	numExamples := args.IntOr("num_examples", 3)

	user := fmt.Sprintf("Find up to %d examples.\n\nTitle: %s\n\nNote:\n%s",
		numExamples, card.Title, clipText(card.Content, maxPromptChars))
	out, err := askJSON[exampleList](ctx, t.client, realExamplesPrompt, user, 0)
	if err != nil {
		return nil, fmt.Errorf("find examples: %w", err)
	}
	if len(out.Examples) == 0 {
		return Fail("no real-world examples found for this card"), nil
	}
	if len(out.Examples) > numExamples {
		out.Examples = out.Examples[:numExamples]
	}

	var created []string
	for _, example := range out.Examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		child, err := t.writer.CreateChild(ctx, card.ID, &models.Card{
			CanvasID:   args.String("canvas_id"),
			Title:      example.Title,
			Content:    example.Content,
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"example"},
		}, models.ConnectionTypeDemonstrates)
		if err != nil {
			return nil, fmt.Errorf("create example card %q: %w", example.Title, err)
		}
		created = append(created, child.ID)
	}

	return OK(map[string]any{
		"parent_card_id": card.ID,
		"cards_created":  created,
		"count":          len(created),
	}), nil
}

type gapList struct {
	Gaps []struct {
		Topic  string `json:"topic"`
		Reason string `json:"reason"`
	} `json:"gaps"`
}

func (t *LearningTools) analyzeKnowledgeGaps(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	cards, err := t.canvas.ListCards(ctx, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	if len(cards) == 0 {
		return Fail("the canvas has no cards to analyze yet"), nil
	}

	var b strings.Builder
	if topic := args.String("topic"); topic != "" {
		fmt.Fprintf(&b, "Focus area: %s\n\n", topic)
	}
	b.WriteString("Cards on the canvas:\n")
	for i, card := range cards {
		if i == 100 {
			fmt.Fprintf(&b, "... and %d more\n", len(cards)-i)
			break
		}
		fmt.Fprintf(&b, "- %s", card.Title)
		if len(card.Tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(card.Tags, ", "))
		}
		b.WriteString("\n")
	}

	out, err := askJSON[gapList](ctx, t.client, knowledgeGapsPrompt, b.String(), 0)
	if err != nil {
		return nil, fmt.Errorf("gap analysis: %w", err)
	}

	gaps := make([]map[string]any, 0, len(out.Gaps))
	for _, gap := range out.Gaps {
		if gap.Topic == "" {
			continue
		}
		gaps = append(gaps, map[string]any{"topic": gap.Topic, "reason": gap.Reason})
	}
	return OK(map[string]any{
		"canvas_id": canvasID,
		"gaps":      gaps,
		"count":     len(gaps),
	}), nil
}

type actionPlan struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

func (t *LearningTools) createActionPlan(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	goal := args.String("goal")

	out, err := askJSON[actionPlan](ctx, t.client, actionPlanPrompt, "Goal: "+goal, 0)
	if err != nil {
		return nil, fmt.Errorf("action plan: %w", err)
	}
	steps := make([]string, 0, len(out.Steps))
	for _, step := range out.Steps {
		if strings.TrimSpace(step) != "" {
			steps = append(steps, strings.TrimSpace(step))
		}
	}
	if len(steps) == 0 {
		return Fail("could not derive concrete steps for this goal"), nil
	}

	items := make([]map[string]any, len(steps))
	for i, step := range steps {
		items[i] = map[string]any{"text": step, "done": false}
	}
	title := out.Title
	if title == "" {
		title = "Action plan: " + clipText(goal, 60)
	}
	card, err := t.writer.CreateCard(ctx, &models.Card{
		CanvasID:   canvasID,
		Title:      title,
		Content:    goal,
		CardType:   models.CardTypeTodo,
		SourceType: models.SourceTypeAIGenerated,
		Tags:       []string{"action-plan"},
		CardData:   map[string]any{"items": items},
	})
	if err != nil {
		return nil, fmt.Errorf("create plan card: %w", err)
	}

	return OK(map[string]any{
		"card_id": card.ID,
		"title":   card.Title,
		"steps":   steps,
	}), nil
}

func (t *LearningTools) answerCanvasQuestion(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	question := args.String("question")

	context, err := t.rag.RetrieveContext(ctx, question, canvasID,
		t.ragCfg.DefaultTopK, t.ragCfg.ScoreThreshold)
	if err != nil {
		t.logger.Warn("context retrieval failed, answering ungrounded", "error", err)
		context = ""
	}

	user := "Question: " + question
	if context != "" {
		user = fmt.Sprintf("Canvas context:\n%s\n\nQuestion: %s", context, question)
	}
	answer, err := askText(ctx, t.client, canvasAnswerPrompt, user, 0)
	if err != nil {
		return nil, fmt.Errorf("answer question: %w", err)
	}

	sources := make([]map[string]any, 0, t.ragCfg.DefaultTopK)
	if results, err := t.rag.Search(ctx, question, canvasID, "",
		t.ragCfg.DefaultTopK, t.ragCfg.ScoreThreshold); err == nil {
		seen := make(map[string]bool)
		for _, res := range results {
			if seen[res.EntityID] {
				continue
			}
			seen[res.EntityID] = true
			sources = append(sources, map[string]any{"card_id": res.EntityID, "score": res.Score})
		}
	}

	return OK(map[string]any{
		"answer":   strings.TrimSpace(answer),
		"sources":  sources,
		"grounded": context != "",
	}), nil
}

func (t *LearningTools) searchAcademicSources(ctx context.Context, args Args) (map[string]any, error) {
	query := args.String("query")
	maxResults := args.IntOr("max_results", 0) // 0 lets the client default apply

	sources, err := t.academic.Search(ctx, query, maxResults)
	generated := false
	if err != nil || len(sources) == 0 {
		if err != nil {
			t.logger.Warn("works API search failed, falling back to model suggestions",
				"query", query, "error", err)
		}
		n := maxResults
		if n < 1 {
			n = config.DefaultAcademicRows
		}
		sources, err = suggestSources(ctx, t.client, query, n)
		if err != nil {
			return nil, fmt.Errorf("academic search and fallback both failed: %w", err)
		}
		generated = true
	}
	if len(sources) == 0 {
		return Fail("no sources found for this query"), nil
	}

	result := map[string]any{
		"query":         query,
		"sources":       sources,
		"count":         len(sources),
		"llm_generated": generated,
	}

	// Attach a sources card when the caller anchored the search to a card.
	cardID := args.String("card_id")
	canvasID := args.String("canvas_id")
	if cardID != "" && canvasID != "" {
		if child, err := t.attachSourcesCard(ctx, canvasID, cardID, query, sources); err != nil {
			t.logger.Warn("could not attach sources card", "card_id", cardID, "error", err)
		} else {
			result["card_id"] = child.ID
		}
	}
	return OK(result), nil
}

// attachSourcesCard writes the source list as a child card with a reference
// edge back to the anchor.
func (t *LearningTools) attachSourcesCard(ctx context.Context, canvasID, cardID, query string,
	sources []Source) (*models.Card, error) {
	var b strings.Builder
	var refs []string
	for _, src := range sources {
		fmt.Fprintf(&b, "- %s", src.Label())
		if ref := src.Ref(); ref != "" {
			fmt.Fprintf(&b, "\n  %s", ref)
			refs = append(refs, ref)
		}
		b.WriteString("\n")
	}
	return t.writer.CreateChild(ctx, cardID, &models.Card{
		CanvasID:   canvasID,
		Title:      "Sources: " + clipText(query, 60),
		Content:    b.String(),
		CardType:   models.CardTypeRichText,
		SourceType: models.SourceTypeAIGenerated,
		Tags:       []string{"sources"},
		Sources:    refs,
	}, models.ConnectionTypeReference)
}

type counterpoint struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (t *LearningTools) findCounterpoints(ctx context.Context, args Args) (map[string]any, error) {
	card, err := t.canvas.GetCard(ctx, args.String("card_id"))
	if err != nil {
		return Fail(fmt.Sprintf("could not load card %s: %s", args.String("card_id"), err)), nil
	}

	user := fmt.Sprintf("Title: %s\n\nNote:\n%s", card.Title, clipText(card.Content, maxPromptChars))
	out, err := askJSON[counterpoint](ctx, t.client, counterpointsPrompt, user, 0)
	if err != nil {
		return nil, fmt.Errorf("find counterpoints: %w", err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return Fail("no substantive counterpoints found"), nil
	}

	title := out.Title
	if title == "" {
		title = "Counterpoints: " + card.Title
	}
	child, err := t.writer.CreateChild(ctx, card.ID, &models.Card{
		CanvasID:   args.String("canvas_id"),
		Title:      title,
		Content:    out.Content,
		CardType:   models.CardTypeRichText,
		SourceType: models.SourceTypeAIGenerated,
		Tags:       []string{"counterpoint"},
	}, models.ConnectionTypeChallenges)
	if err != nil {
		return nil, fmt.Errorf("create counterpoint card: %w", err)
	}

	return OK(map[string]any{
		"card_id":        child.ID,
		"parent_card_id": card.ID,
		"title":          child.Title,
	}), nil
}

type refreshResult struct {
	Content string `json:"content"`
	Changed bool   `json:"changed"`
	Summary string `json:"summary"`
}

func (t *LearningTools) refreshInformation(ctx context.Context, args Args) (map[string]any, error) {
	card, err := t.canvas.GetCard(ctx, args.String("card_id"))
	if err != nil {
		return Fail(fmt.Sprintf("could not load card %s: %s", args.String("card_id"), err)), nil
	}
	if card.SourceURL == "" {
		return Fail(fmt.Sprintf("card %s has no source URL to refresh from", card.ID)), nil
	}

	payload, err := t.extractor.ExtractURL(ctx, card.SourceURL)
	if err != nil {
		return Fail(fmt.Sprintf("could not re-fetch %s: %s", card.SourceURL, err)), nil
	}

	user := fmt.Sprintf("Existing note (%s):\n%s\n\nFresh extraction of %s:\n%s",
		card.Title, clipText(card.Content, maxPromptChars),
		card.SourceURL, clipText(payload.Text(), maxPromptChars))
	out, err := askJSON[refreshResult](ctx, t.client, refreshPrompt, user, 0)
	if err != nil {
		return nil, fmt.Errorf("refresh comparison: %w", err)
	}
	if !out.Changed || strings.TrimSpace(out.Content) == "" {
		return OK(map[string]any{
			"card_id": card.ID,
			"updated": false,
			"message": "the source content has not meaningfully changed",
		}), nil
	}

	card.Content = strings.TrimSpace(out.Content)
	if _, err := t.writer.UpdateCard(ctx, card, map[string]any{"refreshed_from": card.SourceURL}); err != nil {
		return nil, fmt.Errorf("update refreshed card: %w", err)
	}

	return OK(map[string]any{
		"card_id": card.ID,
		"updated": true,
		"summary": out.Summary,
	}), nil
}

type bridgeVerdict struct {
	Surprising  bool   `json:"surprising"`
	Explanation string `json:"explanation"`
}

// bridgeCandidate is a cross-category pair in the mid similarity band:
// related enough to plausibly connect, far enough apart to be interesting.
type bridgeCandidate struct {
	a, b  *models.GraphNode
	score float64
}

func (t *LearningTools) findSurprisingConnections(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	maxResults := args.IntOr("max_results", 5)

	candidates, err := t.bridgeCandidates(ctx, canvasID, args.String("card_id"))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return OK(map[string]any{
			"canvas_id":   canvasID,
			"suggestions": []map[string]any{},
			"count":       0,
			"message":     "no cross-category pairs in the interesting similarity range",
		}), nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	// Each verdict costs an LLM call; bound how many candidates we examine.
	budget := maxResults * 3
	suggestions := make([]map[string]any, 0, maxResults)
	for _, cand := range candidates {
		if len(suggestions) == maxResults || budget == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		budget--

		user := fmt.Sprintf("Note A (%s, category %s):\n%s\n\nNote B (%s, category %s):\n%s",
			cand.a.Title, cand.a.Category, clipText(cand.a.Content, maxPromptChars/2),
			cand.b.Title, cand.b.Category, clipText(cand.b.Content, maxPromptChars/2))
		verdict, err := askJSON[bridgeVerdict](ctx, t.client, bridgePrompt, user, 0)
		if err != nil {
			t.logger.Warn("bridge check failed", "a", cand.a.ID, "b", cand.b.ID, "error", err)
			continue
		}
		if !verdict.Surprising {
			continue
		}

		t.events.Emit(bus.TopicConnectionSuggested, bus.ConnectionSuggestedPayload{
			SourceID:       cand.a.ID,
			TargetID:       cand.b.ID,
			CanvasID:       canvasID,
			ConnectionType: string(models.ConnectionTypeRelated),
			Score:          cand.score,
		})
		suggestions = append(suggestions, map[string]any{
			"source_card_id": cand.a.ID,
			"target_card_id": cand.b.ID,
			"score":          cand.score,
			"explanation":    verdict.Explanation,
		})
	}

	return OK(map[string]any{
		"canvas_id":   canvasID,
		"suggestions": suggestions,
		"count":       len(suggestions),
	}), nil
}

// bridgeCandidates collects cross-category pairs in the mid band. With a
// seed card only that card's neighborhood is scanned; otherwise the most
// recently updated cards seed the scan.
func (t *LearningTools) bridgeCandidates(ctx context.Context, canvasID, seedID string) ([]bridgeCandidate, error) {
	var seeds []string
	if seedID != "" {
		seeds = []string{seedID}
	} else {
		cards, err := t.canvas.ListCards(ctx, canvasID)
		if err != nil {
			return nil, fmt.Errorf("list cards: %w", err)
		}
		sort.SliceStable(cards, func(i, j int) bool { return cards[i].UpdatedAt.After(cards[j].UpdatedAt) })
		for i, card := range cards {
			if i == 20 {
				break
			}
			seeds = append(seeds, card.ID)
		}
	}

	var out []bridgeCandidate
	seen := make(map[string]bool)
	for _, id := range seeds {
		node, err := t.state.GetCard(ctx, id)
		if err != nil {
			if seedID != "" && errors.Is(err, graph.ErrNodeNotFound) {
				return nil, nil
			}
			continue
		}
		if !bridgeable(node.Category) {
			continue
		}
		sims, err := t.state.FindSimilar(ctx, id, 10)
		if err != nil {
			continue
		}
		for _, sim := range sims {
			if sim.Score < t.thresholds.MinParent || sim.Score >= t.thresholds.StrongConn {
				continue
			}
			other, err := t.state.GetCard(ctx, sim.NodeID)
			if err != nil || !bridgeable(other.Category) || other.Category == node.Category {
				continue
			}
			key := pairKey(node.ID, other.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, bridgeCandidate{a: node, b: other, score: sim.Score})
		}
	}
	return out, nil
}

// bridgeable reports whether a category anchors a cross-category pair.
// Uncategorized cards cannot witness "different subject areas".
func bridgeable(category string) bool {
	return category != "" && category != models.UncategorizedName
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

type clusterOutline struct {
	Root struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"root"`
	Subtopics []clusterSubtopic `json:"subtopics"`
}

type clusterSubtopic struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Leaves  []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"leaves"`
}

func (t *LearningTools) createLearningCluster(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	topic := args.String("topic")
	numSubtopics := args.IntOr("num_subtopics", 4)

	op := models.Operation{
		OperationID:   uuid.NewString(),
		OperationType: models.OperationTypeLearningCluster,
		CanvasID:      canvasID,
		SessionID:     args.String("session_id"),
	}

	var createdIDs []string
	var rootID string
	err := t.runner.Execute(ctx, op, func(ctx context.Context, tracker *progress.Tracker) error {
		tracker.Update(ctx, "designing", 0.1, fmt.Sprintf("Designing a learning cluster for %q", topic))

		user := fmt.Sprintf("Topic: %s\n\nUse up to %d subtopics.", topic, numSubtopics)
		outline, err := askJSON[clusterOutline](ctx, t.client, clusterOutlinePrompt, user, 0)
		if err != nil {
			return fmt.Errorf("cluster outline: %w", err)
		}
		if len(outline.Subtopics) == 0 {
			return errors.New("the model produced an empty outline")
		}
		if len(outline.Subtopics) > numSubtopics {
			outline.Subtopics = outline.Subtopics[:numSubtopics]
		}
		for i := range outline.Subtopics {
			if len(outline.Subtopics[i].Leaves) > 3 {
				outline.Subtopics[i].Leaves = outline.Subtopics[i].Leaves[:3]
			}
		}

		total := 1
		for _, sub := range outline.Subtopics {
			total += 1 + len(sub.Leaves)
		}
		made := 0
		step := func(title, id string) {
			made++
			createdIDs = append(createdIDs, id)
			tracker.Update(ctx, "creating_cards", 0.2+0.75*float64(made)/float64(total),
				fmt.Sprintf("Created card %q", title), id)
		}

		rootTitle := outline.Root.Title
		if rootTitle == "" {
			rootTitle = topic
		}
		root, err := t.writer.CreateCard(ctx, &models.Card{
			CanvasID:   canvasID,
			Title:      rootTitle,
			Content:    outline.Root.Content,
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"learning-cluster"},
		})
		if err != nil {
			return fmt.Errorf("create root card: %w", err)
		}
		rootID = root.ID
		step(rootTitle, root.ID)

		for _, subtopic := range outline.Subtopics {
			if err := ctx.Err(); err != nil {
				return err
			}
			sub, err := t.writer.CreateChild(ctx, root.ID, &models.Card{
				CanvasID:   canvasID,
				Title:      subtopic.Title,
				Content:    subtopic.Content,
				CardType:   models.CardTypeRichText,
				SourceType: models.SourceTypeAIGenerated,
				Tags:       []string{"learning-cluster"},
			}, models.ConnectionTypeParentChild)
			if err != nil {
				return fmt.Errorf("create subtopic card %q: %w", subtopic.Title, err)
			}
			step(subtopic.Title, sub.ID)

			for _, leaf := range subtopic.Leaves {
				if err := ctx.Err(); err != nil {
					return err
				}
				child, err := t.writer.CreateChild(ctx, sub.ID, &models.Card{
					CanvasID:   canvasID,
					Title:      leaf.Title,
					Content:    leaf.Content,
					CardType:   models.CardTypeRichText,
					SourceType: models.SourceTypeAIGenerated,
					Tags:       []string{"learning-cluster"},
				}, models.ConnectionTypeParentChild)
				if err != nil {
					return fmt.Errorf("create leaf card %q: %w", leaf.Title, err)
				}
				step(leaf.Title, child.ID)
			}
		}

		tracker.Complete(ctx, fmt.Sprintf("Built a %d-card learning cluster for %q", made, topic))
		return nil
	})
	if err != nil {
		out := Fail(fmt.Sprintf("learning cluster failed: %s", err))
		out["operation_id"] = op.OperationID
		if rootID != "" {
			out["root_card_id"] = rootID
		}
		if len(createdIDs) > 0 {
			out["cards_created"] = createdIDs
		}
		return out, nil
	}

	return OK(map[string]any{
		"operation_id":  op.OperationID,
		"root_card_id":  rootID,
		"cards_created": createdIDs,
	}), nil
}

// clipText bounds text shown to the model. Clipping on a byte boundary is
// acceptable for prompt budgets.
func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
