// Package stream normalizes an agent turn into the wire-format event
// sequence served to chat clients. A Processor owns one stream and
// enforces its grammar by construction: init precedes everything, each
// toolUseId appears at most once and its tool_result only after it, and
// exactly one terminal event (complete or error) ends the stream.
// Payloads are flattened to JSON-safe values before they reach the Sink.
package stream

import "context"

// Kind names a wire event. The names are the SSE event names clients
// subscribe to.
type Kind string

const (
	KindInit       Kind = "init"
	KindResponse   Kind = "response"
	KindReasoning  Kind = "reasoning"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindProgress   Kind = "progress"
	KindComplete   Kind = "complete"
	KindError      Kind = "error"
)

// IsValid checks if the kind is a known wire event kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindInit, KindResponse, KindReasoning, KindToolUse, KindToolResult,
		KindProgress, KindComplete, KindError:
		return true
	default:
		return false
	}
}

// Event is one named wire event: the event name plus its JSON payload.
type Event struct {
	Kind    Kind `json:"kind"`
	Payload any  `json:"payload"`
}

// Sink is where normalized events go; the SSE writer implements it. The
// Processor serializes Send calls, so implementations need no locking of
// their own. A Send error ends the stream for the caller.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// InitPayload opens the stream and reports the session id the server
// settled on, which may differ from the one the client supplied.
type InitPayload struct {
	SessionID string `json:"session_id,omitempty"`
}

// ResponsePayload carries one incremental assistant text chunk.
type ResponsePayload struct {
	Data string `json:"data"`
}

// ReasoningPayload carries a chunk of the model's thinking trace.
type ReasoningPayload struct {
	Text string `json:"text"`
}

// ToolUsePayload announces a tool invocation. The field casing follows
// the provider convention clients already parse.
type ToolUsePayload struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
}

// ToolResultPayload carries the result of the matching tool_use.
type ToolResultPayload struct {
	ToolUseID string `json:"toolUseId"`
	Result    any    `json:"result"`
}

// ProgressPayload is a progress tick forwarded from a long-running tool.
type ProgressPayload struct {
	OperationID   string  `json:"operation_id"`
	OperationType string  `json:"operation_type"`
	Step          string  `json:"step"`
	Progress      float64 `json:"progress"` // [0,1]
	Message       string  `json:"message"`
	CardsCreated  int     `json:"cards_created"`
	EstimatedTime *int    `json:"estimated_time,omitempty"` // seconds remaining
	CanCancel     bool    `json:"can_cancel"`
}

// CompletePayload terminates a successful stream. Images is always
// present, possibly empty.
type CompletePayload struct {
	Result any      `json:"result"`
	Images []string `json:"images"`
}

// ErrorPayload terminates a failed stream with a human-readable message.
type ErrorPayload struct {
	Message string `json:"message"`
}
