package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
)

// Execution is the outcome of one tool call. Result always carries a
// "success" key; the agent loop feeds Content to the model and the stream
// processor flattens Result for the tool_result wire event.
type Execution struct {
	CallID string
	Name   string
	Result map[string]any
}

// Success reports whether the tool succeeded.
func (x *Execution) Success() bool {
	ok, _ := x.Result["success"].(bool)
	return ok
}

// Content renders the result as JSON for the conversation transcript.
func (x *Execution) Content() string {
	data, err := json.Marshal(x.Result)
	if err != nil {
		return fmt.Sprintf("%v", x.Result)
	}
	return string(data)
}

// Executor runs tool calls against a registry: parse arguments, validate
// against the tool's schema, run the handler under a timeout. Every
// failure mode below the transport becomes a structured {success:false,
// error} result so the model can read it and recover; the error return is
// reserved for caller-context cancellation, which must stop the loop.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	defaults map[string]any
	logger   *slog.Logger
}

// NewExecutor creates an executor with the configured default tool timeout.
func NewExecutor(registry *Registry, cfg *config.AgentConfig, logger *slog.Logger) *Executor {
	if cfg == nil {
		cfg = config.DefaultAgentConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		timeout:  cfg.ToolTimeout,
		logger:   logger.With("component", "tool_executor"),
	}
}

// Bound returns an executor that fills missing argument keys from
// defaults. The chat turn binds canvas_id and session_id once, so the
// model does not have to echo ids it was told in the prompt; an id the
// model does supply is kept, letting it target another card or canvas
// when a tool asks for one.
func (e *Executor) Bound(defaults map[string]any) *Executor {
	bound := *e
	merged := make(map[string]any, len(e.defaults)+len(defaults))
	for k, v := range e.defaults {
		merged[k] = v
	}
	for k, v := range defaults {
		merged[k] = v
	}
	bound.defaults = merged
	return &bound
}

// Execute runs one tool call to completion.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (*Execution, error) {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return e.failure(call, fmt.Sprintf("unknown tool %q. Available tools: %s",
			call.Name, strings.Join(e.registry.Names(), ", "))), nil
	}

	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return e.failure(call, fmt.Sprintf("invalid tool arguments: %s", err)), nil
	}
	for k, v := range e.defaults {
		if _, present := args[k]; !present {
			args[k] = v
		}
	}

	if err := e.registry.Validate(call.Name, args); err != nil {
		return e.failure(call, fmt.Sprintf("arguments do not match the %s schema: %s", call.Name, err)), nil
	}

	timeout := e.timeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	started := time.Now()
	result, err := tool.Handler(callCtx, args)
	elapsed := time.Since(started)

	// The caller's context ending means the turn is over (client gone,
	// operation cancelled); that propagates as an error and stops the loop.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("tool %s timed out after %s", call.Name, timeout)
		}
		e.logger.Warn("tool failed", "tool", call.Name, "duration", elapsed, "error", err)
		return e.failure(call, msg), nil
	}

	if result == nil {
		result = map[string]any{}
	}
	if _, present := result["success"]; !present {
		result["success"] = true
	}
	e.logger.Debug("tool executed", "tool", call.Name, "duration", elapsed)
	return &Execution{CallID: call.ID, Name: call.Name, Result: result}, nil
}

func (e *Executor) failure(call llm.ToolCall, message string) *Execution {
	return &Execution{CallID: call.ID, Name: call.Name, Result: Fail(message)}
}
