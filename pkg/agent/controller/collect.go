package controller

import (
	"context"
	"strings"

	"github.com/viacanvas/intelligence/pkg/llm"
)

// SinkError marks a failure that came from the emitter, not the model.
// A dead sink ends the turn; a model error can be retried.
type SinkError struct {
	err error
}

func (e *SinkError) Error() string { return "controller: emit failed: " + e.err.Error() }
func (e *SinkError) Unwrap() error { return e.err }

// Collect drains one model stream, forwarding text and thinking deltas to
// the emitter as they arrive and gathering tool calls and usage for the
// caller. A provider ErrorChunk surfaces as an error once the channel
// closes; the partial result is still returned so a retry can carry the
// output produced before the failure. A nil emitter buffers silently.
func Collect(ctx context.Context, ch <-chan llm.Chunk, emit Emitter) (*llm.Result, error) {
	res := &llm.Result{}
	var text, thinking strings.Builder
	var failure error

	finish := func() *llm.Result {
		res.Text = text.String()
		res.Thinking = thinking.String()
		return res
	}

	for {
		select {
		case <-ctx.Done():
			return finish(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return finish(), failure
			}
			switch c := chunk.(type) {
			case *llm.TextChunk:
				if c.Content == "" {
					continue
				}
				text.WriteString(c.Content)
				if emit != nil {
					if err := emit.Response(ctx, c.Content); err != nil {
						return finish(), &SinkError{err: err}
					}
				}
			case *llm.ThinkingChunk:
				if c.Content == "" {
					continue
				}
				thinking.WriteString(c.Content)
				if emit != nil {
					if err := emit.Reasoning(ctx, c.Content); err != nil {
						return finish(), &SinkError{err: err}
					}
				}
			case *llm.ToolCallChunk:
				res.ToolCalls = append(res.ToolCalls, llm.ToolCall{
					ID:        c.CallID,
					Name:      c.Name,
					Arguments: c.Arguments,
				})
			case *llm.UsageChunk:
				res.Usage = c
			case *llm.ErrorChunk:
				failure = &llm.GenerateError{
					Message:   c.Message,
					Code:      c.Code,
					Retryable: c.Retryable,
				}
			}
		}
	}
}
