package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/tools"
)

// routingAttempts bounds retries of the routing call itself.
const routingAttempts = 2

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

	// bareHostPattern matches a lone domain with an optional port and path
	// ("kiro.dev", "kiro.dev/docs"). The final label must be alphabetic so
	// version strings ("v1.2") stay chat.
	bareHostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}(:\d+)?(/\S*)?$`)
)

// FirstURL returns the first http(s) URL in text with trailing punctuation
// trimmed, or "" when none is present. A message that is nothing but a
// bare host counts too and gains an https scheme, so pasting "kiro.dev"
// imports it; bare hosts inside longer prose do not, keeping ordinary
// sentences on the routing path.
func FirstURL(text string) string {
	if match := urlPattern.FindString(text); match != "" {
		return strings.TrimRight(match, ".,;:!?")
	}
	candidate := strings.TrimRight(strings.TrimSpace(text), ".,;:!?")
	if bareHostPattern.MatchString(candidate) {
		return extract.NormalizeURL(candidate)
	}
	return ""
}

// Orchestrator routes each chat turn. Rule 1: a message carrying a URL
// with a canvas attached goes straight to the URL-extraction tool, no
// model involved. Rule 2: everything else goes to the routing model,
// which sees the specialists as tools and picks exactly one; the picked
// specialist's answer is the turn's answer.
type Orchestrator struct {
	client      llm.Client
	executor    *tools.Executor
	specialists []Specialist
	byName      map[string]Specialist
	fallback    Specialist
	logger      *slog.Logger
}

// NewOrchestrator wires the orchestrator and its four specialists.
func NewOrchestrator(
	client llm.Client,
	ctrl *controller.Controller,
	registry *tools.Registry,
	executor *tools.Executor,
	background *Background,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	base := llmSpecialist{ctrl: ctrl, registry: registry, executor: executor, logger: logger}

	extraction := base
	extraction.name = SpecialistExtraction
	extraction.description = "Imports URLs into canvas cards, grows cards into child concepts, and weaves new material into the canvas."
	extraction.system = extractionSystem
	extraction.toolNames = []string{
		tools.NameGetCanvasSummary,
		tools.NameGetCardContent,
		tools.NameExtractURLContent,
		tools.NameGrowCardContent,
		tools.NameFindSimilarCards,
		tools.NameSuggestCardPlacement,
		tools.NameCreateIntelligentConnections,
	}

	knowledge := base
	knowledge.name = SpecialistKnowledge
	knowledge.description = "Organizes the canvas: similarity, placement, typed connections, categories, card growth, merges, and conflict detection."
	knowledge.system = knowledgeSystem
	knowledge.toolNames = []string{
		tools.NameGetCanvasSummary,
		tools.NameGetCardContent,
		tools.NameFindSimilarCards,
		tools.NameSuggestCardPlacement,
		tools.NameCreateIntelligentConnections,
		tools.NameCategorizeCard,
		tools.NameGrowCardContent,
		tools.NameMergeCards,
		tools.NameDetectConflicts,
	}

	learning := base
	learning.name = SpecialistLearning
	learning.description = "Helps the user study their canvas: simplification, examples, gap analysis, action plans, Q&A over their notes, academic sources, counterpoints, refreshes, surprising connections, learning clusters, and deep research."
	learning.system = learningSystem
	learning.toolNames = []string{
		tools.NameGetCanvasSummary,
		tools.NameGetCardContent,
		tools.NameSimplifyContent,
		tools.NameFindRealExamples,
		tools.NameAnalyzeKnowledgeGaps,
		tools.NameCreateActionPlan,
		tools.NameAnswerCanvasQuestion,
		tools.NameSearchAcademicSources,
		tools.NameFindCounterpoints,
		tools.NameRefreshInformation,
		tools.NameSurprisingConnections,
		tools.NameCreateLearningCluster,
		tools.NameDeepResearch,
	}

	learningSpec := &learning
	specialists := []Specialist{
		&extractionSpecialist{llmSpecialist: extraction},
		&knowledge,
		learningSpec,
		&backgroundSpecialist{engine: background},
	}

	byName := make(map[string]Specialist, len(specialists))
	for _, s := range specialists {
		byName[s.Definition().Name] = s
	}

	return &Orchestrator{
		client:      client,
		executor:    executor,
		specialists: specialists,
		byName:      byName,
		fallback:    learningSpec,
		logger:      logger,
	}
}

// Respond handles one chat turn, streaming mid-turn output to emit and
// returning the final answer text. An error means the turn failed
// terminally and the caller owes the client a terminal error event.
func (o *Orchestrator) Respond(ctx context.Context, turn *Turn, emit controller.Emitter) (string, error) {
	if url := FirstURL(turn.Message); url != "" && turn.CanvasID != "" {
		o.logger.Info("url fast path",
			"session_id", turn.SessionID, "canvas_id", turn.CanvasID, "url", url)
		return runExtraction(ctx, o.executor.Bound(turnDefaults(turn)), turn, url, emit)
	}
	return o.route(ctx, turn, emit)
}

func (o *Orchestrator) route(ctx context.Context, turn *Turn, emit controller.Emitter) (string, error) {
	defs := make([]llm.ToolDefinition, 0, len(o.specialists))
	for _, s := range o.specialists {
		defs = append(defs, s.Definition())
	}

	res, err := o.pick(ctx, routingMessages(turn), defs, emit)
	if err != nil {
		return "", err
	}

	// No specialist call means the router answered directly (small talk);
	// its text already streamed.
	if len(res.ToolCalls) == 0 {
		return res.Text, nil
	}
	if len(res.ToolCalls) > 1 {
		o.logger.Warn("router requested multiple specialists, using the first",
			"session_id", turn.SessionID, "count", len(res.ToolCalls))
	}

	call := res.ToolCalls[0]
	spec, ok := o.byName[call.Name]
	if !ok {
		o.logger.Warn("router picked unknown specialist, falling back",
			"session_id", turn.SessionID, "name", call.Name)
		spec = o.fallback
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	args, perr := tools.ParseArguments(call.Arguments)
	if perr != nil {
		args = tools.Args{}
	}

	name := spec.Definition().Name
	o.logger.Info("routing turn to specialist", "session_id", turn.SessionID, "specialist", name)

	if emit != nil {
		if err := emit.ToolUse(ctx, call.ID, name, map[string]any(args)); err != nil {
			return "", err
		}
	}
	text, err := spec.Respond(ctx, turn, args, emit)
	if err != nil {
		return "", err
	}
	if emit != nil {
		if err := emit.ToolResult(ctx, call.ID, map[string]any{"success": true, "specialist": name}); err != nil {
			return "", err
		}
	}
	return text, nil
}

// pick makes the routing model call, retrying once on a model failure. A
// dead sink or caller cancellation is not retried.
func (o *Orchestrator) pick(
	ctx context.Context,
	messages []llm.ConversationMessage,
	defs []llm.ToolDefinition,
	emit controller.Emitter,
) (*llm.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= routingAttempts; attempt++ {
		res, err := o.generate(ctx, messages, defs, emit)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var sink *controller.SinkError
		if errors.As(err, &sink) {
			return nil, sink.Unwrap()
		}
		lastErr = err
		o.logger.Warn("routing call failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("agent: routing failed: %w", lastErr)
}

func (o *Orchestrator) generate(
	ctx context.Context,
	messages []llm.ConversationMessage,
	defs []llm.ToolDefinition,
	emit controller.Emitter,
) (*llm.Result, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := o.client.Generate(genCtx, &llm.GenerateInput{Messages: messages, Tools: defs})
	if err != nil {
		return nil, err
	}
	return controller.Collect(ctx, ch, emit)
}

func routingMessages(turn *Turn) []llm.ConversationMessage {
	system := orchestratorSystem
	if turn.CanvasID == "" {
		system += "\n\nNo canvas is attached to this conversation."
	} else {
		system += "\n\nA canvas is attached to this conversation."
	}

	messages := make([]llm.ConversationMessage, 0, len(turn.History)+2)
	messages = append(messages, llm.ConversationMessage{Role: llm.RoleSystem, Content: system})
	messages = append(messages, turn.History...)
	messages = append(messages, llm.ConversationMessage{
		Role:    llm.RoleUser,
		Content: turn.Message,
		Images:  turn.Images,
	})
	return messages
}
