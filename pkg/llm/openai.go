package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/viacanvas/intelligence/pkg/config"
)

// OpenAIClient implements Client via the OpenAI Chat Completions API. Any
// OpenAI-compatible endpoint works through the base_url override.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIClient creates a streaming OpenAI chat client.
func NewOpenAIClient(cfg *config.LLMConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "llm", "provider", "openai"),
	}, nil
}

// Generate sends a conversation to the model and returns a channel of chunks.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req := c.buildRequest(input)

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		emit := func(chunk Chunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		acc := newToolCallAccumulator()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				// Tool call arguments may fragment across the whole
				// stream; flush once it ends.
				for _, tc := range acc.flush() {
					if !emit(&ToolCallChunk{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}) {
						return
					}
				}
				return
			}
			if err != nil {
				emit(&ErrorChunk{Message: err.Error(), Code: openaiErrorCode(err), Retryable: openaiRetryable(err)})
				return
			}

			if resp.Usage != nil {
				if !emit(&UsageChunk{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				}) {
					return
				}
			}
			for _, choice := range resp.Choices {
				if choice.Delta.ReasoningContent != "" {
					if !emit(&ThinkingChunk{Content: choice.Delta.ReasoningContent}) {
						return
					}
				}
				if choice.Delta.Content != "" {
					if !emit(&TextChunk{Content: choice.Delta.Content}) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc.add(tc)
				}
			}
		}
	}()

	return ch, nil
}

// Close is a no-op; the underlying HTTP client has no persistent state.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) buildRequest(input *GenerateInput) openai.ChatCompletionRequest {
	maxTokens := input.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := input.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	return openai.ChatCompletionRequest{
		Model:         c.model,
		Messages:      toOpenAIMessages(input.Messages),
		Tools:         toOpenAITools(input.Tools),
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
}

func toOpenAIMessages(msgs []ConversationMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == RoleTool {
			om.Name = m.ToolName
		}
		if len(m.Images) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURI(img),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.ParametersSchema),
			},
		})
	}
	return tools
}

func dataURI(img ImageAttachment) string {
	return "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// toolCallAccumulator reassembles tool calls whose arguments arrive as
// indexed fragments across stream deltas. The first fragment of a call
// carries the ID and name; later fragments append argument text.
type toolCallAccumulator struct {
	order []int
	calls map[int]*pendingToolCall
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingToolCall)}
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	pending, ok := a.calls[idx]
	if !ok {
		pending = &pendingToolCall{}
		a.calls[idx] = pending
		a.order = append(a.order, idx)
	}
	if tc.ID != "" {
		pending.id = tc.ID
	}
	if tc.Function.Name != "" {
		pending.name = tc.Function.Name
	}
	pending.args.WriteString(tc.Function.Arguments)
}

func (a *toolCallAccumulator) flush() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	sort.Ints(a.order)
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		p := a.calls[idx]
		args := p.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out = append(out, ToolCall{ID: p.id, Name: p.name, Arguments: args})
	}
	a.order = nil
	a.calls = make(map[int]*pendingToolCall)
	return out
}

func openaiRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}

func openaiErrorCode(err error) string {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	if code, ok := apiErr.Code.(string); ok && code != "" {
		return code
	}
	return fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
}
