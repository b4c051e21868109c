package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/tools"
)

// routingSchema is the argument schema every specialist presents to the
// routing model. card_id matters only to the background specialist but is
// harmless elsewhere.
const routingSchema = `{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "What the specialist should do, in your words. Defaults to the user's message."},
		"card_id": {"type": "string", "description": "A specific card the task is about, when the conversation names one"}
	}
}`

// Specialist handles one routed chat turn.
type Specialist interface {
	// Definition is how the routing model sees the specialist.
	Definition() llm.ToolDefinition
	// Respond runs the routed turn. args are the routing call's arguments;
	// the specialist's answer becomes the turn's final text.
	Respond(ctx context.Context, turn *Turn, args tools.Args, emit controller.Emitter) (string, error)
}

// llmSpecialist is a tool-set framing driven by the controller loop: a
// system prompt, the tools it may call, and nothing else.
type llmSpecialist struct {
	name        string
	description string
	system      string
	toolNames   []string

	ctrl     *controller.Controller
	registry *tools.Registry
	executor *tools.Executor
	logger   *slog.Logger
}

func (s *llmSpecialist) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:             s.name,
		Description:      s.description,
		ParametersSchema: routingSchema,
	}
}

func (s *llmSpecialist) Respond(ctx context.Context, turn *Turn, args tools.Args, emit controller.Emitter) (string, error) {
	messages := specialistMessages(s.system, turn, args.String("task"))
	defs := s.registry.Definitions(s.toolNames...)
	bound := s.executor.Bound(turnDefaults(turn))

	outcome, err := s.ctrl.Run(ctx, messages, defs, bound, emit)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	s.logger.Info("specialist finished",
		"specialist", s.name,
		"session_id", turn.SessionID,
		"iterations", outcome.Iterations,
		"tools_executed", outcome.ToolsExecuted,
		"forced", outcome.Forced)
	return outcome.Text, nil
}

// specialistMessages assembles the specialist's conversation: its system
// prompt with the canvas note, the session history, and the user's message
// with the router's task appended when it adds anything.
func specialistMessages(system string, turn *Turn, task string) []llm.ConversationMessage {
	messages := make([]llm.ConversationMessage, 0, len(turn.History)+2)
	messages = append(messages, llm.ConversationMessage{
		Role:    llm.RoleSystem,
		Content: withCanvasNote(system, turn.CanvasID),
	})
	messages = append(messages, turn.History...)

	user := turn.Message
	if task != "" && task != turn.Message {
		user = fmt.Sprintf("%s\n\n[Routed task: %s]", turn.Message, task)
	}
	messages = append(messages, llm.ConversationMessage{
		Role:    llm.RoleUser,
		Content: user,
		Images:  turn.Images,
	})
	return messages
}

func withCanvasNote(system, canvasID string) string {
	if canvasID == "" {
		return system + "\n\nNo canvas is attached to this conversation; tools that create or read cards will not work."
	}
	return system + "\n\nA canvas is attached to this conversation; tools receive its id automatically."
}

// extractionSpecialist pre-checks the turn for a URL and extracts it
// directly, skipping the model when the route is already certain.
type extractionSpecialist struct {
	llmSpecialist
}

func (s *extractionSpecialist) Respond(ctx context.Context, turn *Turn, args tools.Args, emit controller.Emitter) (string, error) {
	if turn.CanvasID != "" {
		url := FirstURL(turn.Message)
		if url == "" {
			url = FirstURL(args.String("task"))
		}
		if url != "" {
			return runExtraction(ctx, s.executor.Bound(turnDefaults(turn)), turn, url, emit)
		}
	}
	return s.llmSpecialist.Respond(ctx, turn, args, emit)
}

// runExtraction invokes the URL-extraction tool without a model in the
// loop and renders a short report from its result. Used by the
// orchestrator's URL fast path and the extraction specialist's pre-check.
func runExtraction(ctx context.Context, runner controller.ToolRunner, turn *Turn, url string, emit controller.Emitter) (string, error) {
	callID := uuid.NewString()
	args := map[string]any{"url": url, "canvas_id": turn.CanvasID}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("agent: marshal extraction args: %w", err)
	}

	if emit != nil {
		if err := emit.ToolUse(ctx, callID, tools.NameExtractURLContent, args); err != nil {
			return "", err
		}
	}
	exec, err := runner.Execute(ctx, llm.ToolCall{
		ID:        callID,
		Name:      tools.NameExtractURLContent,
		Arguments: string(raw),
	})
	if err != nil {
		return "", err
	}
	if emit != nil {
		if err := emit.ToolResult(ctx, callID, exec.Result); err != nil {
			return "", err
		}
	}
	return extractionReport(url, exec), nil
}

func extractionReport(url string, exec *tools.Execution) string {
	created := cardCount(exec.Result["cards_created"])
	if exec.Success() {
		if created == 1 {
			return fmt.Sprintf("I imported %s into 1 card on your canvas.", url)
		}
		return fmt.Sprintf("I imported %s into %d cards on your canvas.", url, created)
	}

	message, _ := exec.Result["error"].(string)
	if created > 0 {
		return fmt.Sprintf("Extraction of %s failed after creating %d cards: %s. The cards created so far were kept.",
			url, created, message)
	}
	return fmt.Sprintf("I couldn't extract %s: %s", url, message)
}

// cardCount reads a created-cards figure from a loosely typed result
// field: a slice of ids or a bare count.
func cardCount(v any) int {
	switch ids := v.(type) {
	case []string:
		return len(ids)
	case []any:
		return len(ids)
	case int:
		return ids
	case float64:
		return int(ids)
	default:
		return 0
	}
}

// backgroundSpecialist exposes the background engine's enrichment pass for
// on-demand chat runs.
type backgroundSpecialist struct {
	engine *Background
}

func (s *backgroundSpecialist) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:             SpecialistBackground,
		Description:      "Enriches existing cards on demand: learning questions, todos, deadlines, named entities, duplicate and contradiction flags.",
		ParametersSchema: routingSchema,
	}
}

func (s *backgroundSpecialist) Respond(ctx context.Context, turn *Turn, args tools.Args, emit controller.Emitter) (string, error) {
	if turn.CanvasID == "" {
		return "I need a canvas attached to this conversation to enrich cards.", nil
	}
	return s.engine.EnrichOnDemand(ctx, turn.CanvasID, args.String("card_id"))
}
