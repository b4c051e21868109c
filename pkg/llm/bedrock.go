package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"

	"github.com/viacanvas/intelligence/pkg/config"
)

// BedrockClient implements Client via the Bedrock Converse streaming API.
type BedrockClient struct {
	client      *bedrockruntime.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// NewBedrockClient creates a streaming Bedrock chat client. Credentials
// come from the default AWS provider chain.
func NewBedrockClient(ctx context.Context, cfg *config.LLMConfig, logger *slog.Logger) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockClient{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "llm", "provider", "bedrock"),
	}, nil
}

// Generate sends a conversation to the model and returns a channel of chunks.
func (c *BedrockClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req, err := c.buildInput(input)
	if err != nil {
		return nil, err
	}

	out, err := c.client.ConverseStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	stream := out.GetStream()

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		emit := func(chunk Chunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		p := newConverseProcessor(emit)
		events := stream.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					if err := stream.Err(); err != nil {
						emit(&ErrorChunk{Message: err.Error(), Code: bedrockErrorCode(err), Retryable: bedrockRetryable(err)})
					}
					return
				}
				if !p.handle(event) {
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close is a no-op; the SDK client holds no persistent connection.
func (c *BedrockClient) Close() error { return nil }

func (c *BedrockClient) buildInput(input *GenerateInput) (*bedrockruntime.ConverseStreamInput, error) {
	messages, system, err := toBedrockMessages(input.Messages)
	if err != nil {
		return nil, err
	}

	out := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.model),
		Messages: messages,
	}
	if len(system) > 0 {
		out.System = system
	}

	toolCfg, err := toBedrockToolConfig(input.Tools)
	if err != nil {
		return nil, err
	}
	if toolCfg != nil {
		out.ToolConfig = toolCfg
	}

	var infer brtypes.InferenceConfiguration
	if n := firstNonZeroInt(input.MaxTokens, c.maxTokens); n > 0 {
		infer.MaxTokens = aws.Int32(int32(n))
	}
	if t := firstNonZeroFloat(input.Temperature, c.temperature); t > 0 {
		infer.Temperature = aws.Float32(t)
	}
	if infer.MaxTokens != nil || infer.Temperature != nil {
		out.InferenceConfig = &infer
	}
	return out, nil
}

func toBedrockMessages(msgs []ConversationMessage) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
			continue
		case RoleTool:
			// Tool results ride in user messages, correlated by tool use ID.
			tr := brtypes.ToolResultBlock{
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: m.Content},
				},
			}
			if m.ToolCallID != "" {
				tr.ToolUseId = aws.String(m.ToolCallID)
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: tr}},
			})
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, 1+len(m.Images)+len(m.ToolCalls))
		if m.Content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
		}
		for _, img := range m.Images {
			if m.Role != RoleUser {
				return nil, nil, fmt.Errorf("bedrock: images are only supported in user messages (role=%s)", m.Role)
			}
			format, err := bedrockImageFormat(img.MediaType)
			if err != nil {
				return nil, nil, err
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberImage{
				Value: brtypes.ImageBlock{
					Format: format,
					Source: &brtypes.ImageSourceMemberBytes{Value: img.Data},
				},
			})
		}
		for _, tc := range m.ToolCalls {
			tb := brtypes.ToolUseBlock{Input: jsonDocument(tc.Arguments)}
			if tc.ID != "" {
				tb.ToolUseId = aws.String(tc.ID)
			}
			if tc.Name != "" {
				tb.Name = aws.String(tc.Name)
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
		}
		if len(blocks) == 0 {
			continue
		}

		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}

	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user or assistant message is required")
	}
	return conversation, system, nil
}

func toBedrockToolConfig(defs []ToolDefinition) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Description == "" {
			return nil, fmt.Errorf("bedrock: tool %q is missing description", def.Name)
		}
		var schema any
		if err := json.Unmarshal([]byte(def.ParametersSchema), &schema); err != nil {
			return nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func bedrockImageFormat(mediaType string) (brtypes.ImageFormat, error) {
	switch strings.TrimPrefix(mediaType, "image/") {
	case "png":
		return brtypes.ImageFormatPng, nil
	case "jpeg", "jpg":
		return brtypes.ImageFormatJpeg, nil
	case "gif":
		return brtypes.ImageFormatGif, nil
	case "webp":
		return brtypes.ImageFormatWebp, nil
	default:
		return "", fmt.Errorf("bedrock: unsupported image media type %q", mediaType)
	}
}

func jsonDocument(raw string) document.Interface {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		payload = map[string]any{"raw": raw}
	}
	return document.NewLazyDocument(&payload)
}

// converseProcessor converts Converse stream events into chunks. Tool use
// input arrives as JSON fragments between a block start and stop; the
// processor buffers them per content block index and emits one complete
// ToolCallChunk at block stop.
type converseProcessor struct {
	emit       func(Chunk) bool
	toolBlocks map[int]*toolBuffer
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func newConverseProcessor(emit func(Chunk) bool) *converseProcessor {
	return &converseProcessor{emit: emit, toolBlocks: make(map[int]*toolBuffer)}
}

// handle returns false when the consumer is gone and pumping should stop.
func (p *converseProcessor) handle(event brtypes.ConverseStreamOutput) bool {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int]*toolBuffer)

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			tb := &toolBuffer{}
			if toolUse.Value.ToolUseId != nil {
				tb.id = *toolUse.Value.ToolUseId
			}
			if toolUse.Value.Name != nil {
				tb.name = *toolUse.Value.Name
			}
			p.toolBlocks[idx] = tb
		}

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				return p.emit(&TextChunk{Content: delta.Value})
			}
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if textDelta, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok && textDelta.Value != "" {
				return p.emit(&ThinkingChunk{Content: textDelta.Value})
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := p.toolBlocks[idx]; tb != nil && delta.Value.Input != nil {
				tb.fragments = append(tb.fragments, *delta.Value.Input)
			}
		}

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := contentIndex(ev.Value.ContentBlockIndex)
		if tb := p.toolBlocks[idx]; tb != nil {
			delete(p.toolBlocks, idx)
			return p.emit(&ToolCallChunk{CallID: tb.id, Name: tb.name, Arguments: tb.finalInput()})
		}

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		// Channel close signals completion; the stop reason is implied by
		// whether tool call chunks were emitted.
		p.toolBlocks = make(map[int]*toolBuffer)

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			var usage UsageChunk
			if t := ev.Value.Usage.InputTokens; t != nil {
				usage.InputTokens = int(*t)
			}
			if t := ev.Value.Usage.OutputTokens; t != nil {
				usage.OutputTokens = int(*t)
			}
			if t := ev.Value.Usage.TotalTokens; t != nil {
				usage.TotalTokens = int(*t)
			}
			return p.emit(&usage)
		}
	}
	return true
}

func contentIndex(idx *int32) int {
	if idx == nil {
		return 0
	}
	return int(*idx)
}

var retryableBedrockCodes = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"InternalServerException":     true,
	"ModelTimeoutException":       true,
}

func bedrockRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableBedrockCodes[apiErr.ErrorCode()]
	}
	return false
}

func bedrockErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func firstNonZeroInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroFloat(vals ...float32) float32 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
