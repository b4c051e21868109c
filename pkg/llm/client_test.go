package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamOf(chunks ...Chunk) <-chan Chunk {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollect_AssemblesText(t *testing.T) {
	result, err := Collect(context.Background(), streamOf(
		&TextChunk{Content: "The "},
		&ThinkingChunk{Content: "considering"},
		&TextChunk{Content: "answer "},
		&TextChunk{Content: "is 42."},
		&UsageChunk{InputTokens: 12, OutputTokens: 6, TotalTokens: 18},
	))
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", result.Text)
	assert.Equal(t, "considering", result.Thinking)
	assert.Empty(t, result.ToolCalls)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 18, result.Usage.TotalTokens)
}

func TestCollect_GathersToolCalls(t *testing.T) {
	result, err := Collect(context.Background(), streamOf(
		&ToolCallChunk{CallID: "call-1", Name: "search_knowledge", Arguments: `{"query":"go"}`},
		&ToolCallChunk{CallID: "call-2", Name: "get_card", Arguments: `{"card_id":"c1"}`},
	))
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "search_knowledge", result.ToolCalls[0].Name)
	assert.Equal(t, `{"card_id":"c1"}`, result.ToolCalls[1].Arguments)
}

func TestCollect_ErrorChunkBecomesError(t *testing.T) {
	_, err := Collect(context.Background(), streamOf(
		&TextChunk{Content: "partial"},
		&ErrorChunk{Message: "rate limited", Code: "ThrottlingException", Retryable: true},
	))
	require.Error(t, err)

	var genErr *GenerateError
	require.ErrorAs(t, err, &genErr)
	assert.True(t, genErr.Retryable)
	assert.Contains(t, genErr.Error(), "ThrottlingException")
	assert.Contains(t, genErr.Error(), "rate limited")
}

func TestCollect_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Chunk) // never closed, never written

	cancel()
	_, err := Collect(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateError_WithoutCode(t *testing.T) {
	err := &GenerateError{Message: "connection refused"}
	assert.Equal(t, "llm: connection refused", err.Error())
}

func TestChunkTypes(t *testing.T) {
	tests := []struct {
		chunk Chunk
		want  ChunkType
	}{
		{&TextChunk{}, ChunkTypeText},
		{&ThinkingChunk{}, ChunkTypeThinking},
		{&ToolCallChunk{}, ChunkTypeToolCall},
		{&UsageChunk{}, ChunkTypeUsage},
		{&ErrorChunk{}, ChunkTypeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.chunk.chunkType())
	}
}
