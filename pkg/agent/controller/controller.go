// Package controller implements the iterating tool-call loop that drives
// one agent turn: call the model with the tool set, execute any tool calls
// it makes, append the results to the conversation, and resume until the
// model answers in plain text or the iteration budget runs out.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/tools"
)

// maxConsecutiveFailures bounds model-call retries. A success resets the
// counter; a second failure in a row ends the turn.
const maxConsecutiveFailures = 2

// maxPartialLen caps how much partial output a retry message carries back
// to the model.
const maxPartialLen = 2000

// conclusionTemplate forces a final answer once the iteration budget is
// spent. %d = iterations used.
const conclusionTemplate = `You have reached the tool-call limit for this turn (%d iterations).

Answer the user now with what you have:
- Use the tool results already gathered.
- If part of the request could not be completed, say which part and why.
- Do not promise follow-up work you cannot perform in this reply.`

// Emitter receives a turn's streaming output as it is produced: assistant
// text and thinking deltas, tool invocations, and tool results.
// *stream.Processor implements it. A nil Emitter buffers silently.
type Emitter interface {
	Response(ctx context.Context, text string) error
	Reasoning(ctx context.Context, text string) error
	ToolUse(ctx context.Context, toolUseID, name string, input any) error
	ToolResult(ctx context.Context, toolUseID string, result any) error
}

// ToolRunner executes one model-requested tool call. *tools.Executor
// implements it; the error return is reserved for caller-context
// cancellation, every tool-level failure arrives as a structured result.
type ToolRunner interface {
	Execute(ctx context.Context, call llm.ToolCall) (*tools.Execution, error)
}

// Outcome is the collected result of one controller run.
type Outcome struct {
	// Text is the model's final answer.
	Text string
	// Iterations is the number of model calls made, including the forced
	// conclusion call when Forced is true.
	Iterations int
	// ToolsExecuted counts tool calls run across all iterations.
	ToolsExecuted int
	// Forced reports that the iteration budget ran out and the final
	// answer was produced by a tool-less conclusion call.
	Forced bool
	// Usage aggregates token consumption across all model calls.
	Usage llm.UsageChunk
}

// Controller runs the multi-turn tool-calling loop. Tool calls arrive as
// structured chunks from the provider stream; a response without tool
// calls is the final answer.
type Controller struct {
	client  llm.Client
	maxIter int
	logger  *slog.Logger
}

// New creates a controller bounded by the configured iteration budget.
func New(client llm.Client, cfg *config.AgentConfig, logger *slog.Logger) *Controller {
	if cfg == nil {
		cfg = config.DefaultAgentConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:  client,
		maxIter: cfg.MaxToolIterations,
		logger:  logger.With("component", "controller"),
	}
}

// Run drives one agent turn to completion. messages must already carry the
// system prompt and the user's request; defs is the tool set offered to the
// model. Mid-stream output goes to emit as it arrives. Run returns an error
// only when the turn cannot continue: context cancellation, a dead emitter
// sink, or repeated model failures.
func (c *Controller) Run(
	ctx context.Context,
	messages []llm.ConversationMessage,
	defs []llm.ToolDefinition,
	runner ToolRunner,
	emit Emitter,
) (*Outcome, error) {
	outcome := &Outcome{}
	state := &loopState{}

	for iter := 0; iter < c.maxIter; iter++ {
		outcome.Iterations = iter + 1

		resp, err := c.generate(ctx, messages, defs, emit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var sink *SinkError
			if errors.As(err, &sink) {
				return nil, sink.err
			}

			state.recordFailure()
			if state.consecutiveFailures >= maxConsecutiveFailures {
				return nil, fmt.Errorf("controller: model failed %d times in a row: %w",
					state.consecutiveFailures, err)
			}
			c.logger.Warn("model call failed, retrying",
				"iteration", iter+1, "error", err)
			messages = append(messages, llm.ConversationMessage{
				Role:    llm.RoleUser,
				Content: retryMessage(err, resp),
			})
			continue
		}
		state.recordSuccess()
		accumulate(&outcome.Usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			outcome.Text = resp.Text
			return outcome, nil
		}

		messages = append(messages, llm.ConversationMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			if err := c.announceToolUse(ctx, emit, tc); err != nil {
				return nil, err
			}

			started := time.Now()
			exec, err := runner.Execute(ctx, tc)
			if err != nil {
				return nil, err
			}
			c.logger.Debug("tool call finished",
				"tool", tc.Name, "success", exec.Success(), "duration", time.Since(started))

			if emit != nil {
				if err := emit.ToolResult(ctx, tc.ID, exec.Result); err != nil {
					return nil, err
				}
			}
			outcome.ToolsExecuted++
			messages = append(messages, llm.ConversationMessage{
				Role:       llm.RoleTool,
				Content:    exec.Content(),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	return c.conclude(ctx, messages, emit, outcome)
}

// conclude calls the model once more without tools so the turn ends with a
// text answer instead of an unanswerable tool request.
func (c *Controller) conclude(
	ctx context.Context,
	messages []llm.ConversationMessage,
	emit Emitter,
	outcome *Outcome,
) (*Outcome, error) {
	c.logger.Info("iteration budget spent, forcing conclusion", "iterations", outcome.Iterations)

	messages = append(messages, llm.ConversationMessage{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(conclusionTemplate, outcome.Iterations),
	})

	resp, err := c.generate(ctx, messages, nil, emit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var sink *SinkError
		if errors.As(err, &sink) {
			return nil, sink.err
		}
		return nil, fmt.Errorf("controller: forced conclusion failed: %w", err)
	}
	accumulate(&outcome.Usage, resp.Usage)

	outcome.Iterations++
	outcome.Forced = true
	outcome.Text = resp.Text
	return outcome, nil
}

// generate performs one streaming model call, forwarding deltas to emit.
func (c *Controller) generate(
	ctx context.Context,
	messages []llm.ConversationMessage,
	defs []llm.ToolDefinition,
	emit Emitter,
) (*llm.Result, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := c.client.Generate(genCtx, &llm.GenerateInput{
		Messages: messages,
		Tools:    defs,
	})
	if err != nil {
		return nil, err
	}
	return Collect(ctx, ch, emit)
}

func (c *Controller) announceToolUse(ctx context.Context, emit Emitter, tc llm.ToolCall) error {
	if emit == nil {
		return nil
	}
	var input any
	if args, err := tools.ParseArguments(tc.Arguments); err == nil {
		input = map[string]any(args)
	} else {
		input = tc.Arguments
	}
	return emit.ToolUse(ctx, tc.ID, tc.Name, input)
}

// retryMessage crafts the error-context message appended before retrying a
// failed model call. Partial output, when present, rides along so the model
// can continue instead of starting over.
func retryMessage(err error, partial *llm.Result) string {
	text := ""
	if partial != nil {
		text = partial.Text
	}
	if text == "" {
		return fmt.Sprintf("Error from previous attempt: %s. Please try again.", err)
	}
	if len(text) > maxPartialLen {
		text = text[:maxPartialLen] + "..."
	}
	return fmt.Sprintf(
		"Error from previous attempt: %s\n\nYour partial response before the error:\n---\n%s\n---\n\n"+
			"Continue from where you left off or provide a complete response.",
		err, text)
}

func accumulate(total *llm.UsageChunk, u *llm.UsageChunk) {
	if u == nil {
		return
	}
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.TotalTokens += u.TotalTokens
}

// loopState tracks failures across iterations.
type loopState struct {
	consecutiveFailures int
}

func (s *loopState) recordFailure() { s.consecutiveFailures++ }
func (s *loopState) recordSuccess() { s.consecutiveFailures = 0 }
