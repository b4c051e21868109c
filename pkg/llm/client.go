// Package llm provides channel-based streaming clients for the chat and
// embedding providers. Providers normalize their native event streams into
// one canonical chunk sequence so the agent layer never sees provider wire
// formats.
package llm

import "context"

// Message roles as sent to the providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Client is the interface for chat-completion providers.
type Client interface {
	// Generate sends a conversation to the model and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	// Provider errors are delivered as ErrorChunk values in the channel.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Close releases provider resources.
	Close() error
}

// GenerateInput is one model invocation.
type GenerateInput struct {
	SessionID   string // logging correlation only
	OperationID string // logging correlation only
	Messages    []ConversationMessage
	Tools       []ToolDefinition // nil = no tools
	MaxTokens   int              // 0 = client default
	Temperature float32          // 0 = client default
}

// ConversationMessage is one turn of the conversation.
type ConversationMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	Images     []ImageAttachment // user messages only
	ToolCalls  []ToolCall        // for assistant messages
	ToolCallID string            // for tool result messages
	ToolName   string            // for tool result messages
}

// ImageAttachment is an inline image on a user message.
type ImageAttachment struct {
	MediaType string // "image/png", "image/jpeg", "image/gif", "image/webp"
	Data      []byte
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall represents the model's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the model's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a chunk of the model's internal reasoning.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals the model wants to call a tool. Arguments are
// complete; providers reassemble fragmented argument deltas before
// emitting the chunk.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this model call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals an error from the model provider.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

// Result is a fully drained Generate stream.
type Result struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall
	Usage     *UsageChunk
}

// Collect drains a Generate stream into a Result. Callers that need the
// response as one piece (classification, summarization) use this instead
// of consuming chunks. An ErrorChunk in the stream is returned as an
// error once the channel closes.
func Collect(ctx context.Context, ch <-chan Chunk) (*Result, error) {
	var (
		text     []byte
		thinking []byte
		result   Result
		streamed *ErrorChunk
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if streamed != nil {
					return nil, &GenerateError{Message: streamed.Message, Code: streamed.Code, Retryable: streamed.Retryable}
				}
				result.Text = string(text)
				result.Thinking = string(thinking)
				return &result, nil
			}
			switch c := chunk.(type) {
			case *TextChunk:
				text = append(text, c.Content...)
			case *ThinkingChunk:
				thinking = append(thinking, c.Content...)
			case *ToolCallChunk:
				result.ToolCalls = append(result.ToolCalls, ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
			case *UsageChunk:
				result.Usage = c
			case *ErrorChunk:
				streamed = c
			}
		}
	}
}

// GenerateError is the error form of an ErrorChunk.
type GenerateError struct {
	Message   string
	Code      string
	Retryable bool
}

func (e *GenerateError) Error() string {
	if e.Code != "" {
		return "llm: " + e.Code + ": " + e.Message
	}
	return "llm: " + e.Message
}
