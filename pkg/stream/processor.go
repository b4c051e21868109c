package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotStarted is returned when a mid-stream event is emitted before init.
	ErrNotStarted = errors.New("stream: event before init")
	// ErrStarted is returned by a second Init.
	ErrStarted = errors.New("stream: init already sent")
	// ErrTerminated is returned for any event after the terminal one.
	ErrTerminated = errors.New("stream: already terminated")
	// ErrDuplicateToolUse is returned when a toolUseId is announced twice.
	ErrDuplicateToolUse = errors.New("stream: duplicate toolUseId")
	// ErrDuplicateToolResult is returned when a toolUseId gets a second result.
	ErrDuplicateToolResult = errors.New("stream: duplicate tool result")
	// ErrUnknownToolUse is returned for a tool_result without a tool_use.
	ErrUnknownToolUse = errors.New("stream: tool_result without tool_use")
)

// Processor normalizes one agent turn into the wire event sequence.
// It is safe for concurrent use: the chat controller and the progress
// forwarder write to the same stream, and the processor serializes them,
// so a Sink sees events one at a time in a valid order.
type Processor struct {
	sink Sink

	mu      sync.Mutex
	started bool
	done    bool
	tools   map[string]bool // toolUseId -> result delivered
}

// NewProcessor wraps a sink in stream-grammar enforcement.
func NewProcessor(sink Sink) *Processor {
	return &Processor{
		sink:  sink,
		tools: make(map[string]bool),
	}
}

// Init opens the stream and reports the settled session id. It must be
// the first event and cannot repeat.
func (p *Processor) Init(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrTerminated
	}
	if p.started {
		return ErrStarted
	}
	p.started = true
	return p.sink.Send(ctx, Event{Kind: KindInit, Payload: InitPayload{SessionID: sessionID}})
}

// Response emits one incremental assistant text chunk.
func (p *Processor) Response(ctx context.Context, text string) error {
	return p.emit(ctx, Event{Kind: KindResponse, Payload: ResponsePayload{Data: text}})
}

// Reasoning emits a chunk of the model's thinking trace.
func (p *Processor) Reasoning(ctx context.Context, text string) error {
	return p.emit(ctx, Event{Kind: KindReasoning, Payload: ReasoningPayload{Text: text}})
}

// ToolUse announces a tool invocation. Each toolUseId may appear once per
// stream.
func (p *Processor) ToolUse(ctx context.Context, toolUseID, name string, input any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrTerminated
	}
	if !p.started {
		return ErrNotStarted
	}
	if _, seen := p.tools[toolUseID]; seen {
		return fmt.Errorf("%w: %s", ErrDuplicateToolUse, toolUseID)
	}
	p.tools[toolUseID] = false
	return p.sink.Send(ctx, Event{Kind: KindToolUse, Payload: ToolUsePayload{
		ToolUseID: toolUseID,
		Name:      name,
		Input:     Flatten(input),
	}})
}

// ToolResult delivers the result for a previously announced tool_use.
func (p *Processor) ToolResult(ctx context.Context, toolUseID string, result any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrTerminated
	}
	if !p.started {
		return ErrNotStarted
	}
	resolved, seen := p.tools[toolUseID]
	if !seen {
		return fmt.Errorf("%w: %s", ErrUnknownToolUse, toolUseID)
	}
	if resolved {
		return fmt.Errorf("%w: %s", ErrDuplicateToolResult, toolUseID)
	}
	p.tools[toolUseID] = true
	return p.sink.Send(ctx, Event{Kind: KindToolResult, Payload: ToolResultPayload{
		ToolUseID: toolUseID,
		Result:    Flatten(result),
	}})
}

// Progress forwards a progress tick from a long-running tool.
func (p *Processor) Progress(ctx context.Context, payload ProgressPayload) error {
	return p.emit(ctx, Event{Kind: KindProgress, Payload: payload})
}

// Complete terminates the stream successfully. Images defaults to an
// empty list so the payload shape is stable.
func (p *Processor) Complete(ctx context.Context, result any, images ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrTerminated
	}
	if !p.started {
		return ErrNotStarted
	}
	p.done = true
	return p.sink.Send(ctx, Event{Kind: KindComplete, Payload: CompletePayload{
		Result: Flatten(result),
		Images: append([]string{}, images...),
	}})
}

// Error terminates the stream with a failure. Unlike every other event it
// is deliverable before init, so a failure during stream setup still
// reaches the client.
func (p *Processor) Error(ctx context.Context, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrTerminated
	}
	p.done = true
	return p.sink.Send(ctx, Event{Kind: KindError, Payload: ErrorPayload{Message: message}})
}

// Terminated reports whether the terminal event has been sent. Handlers
// use it to decide whether a late failure still needs an error event.
func (p *Processor) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Processor) emit(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrTerminated
	}
	if !p.started {
		return ErrNotStarted
	}
	return p.sink.Send(ctx, ev)
}
