package tools

import (
	"context"

	"github.com/viacanvas/intelligence/pkg/llm"
)

// askJSON runs one non-streaming model call and decodes the JSON object in
// its response into T. The forgiving extractor tolerates fences and prose;
// a response with no valid JSON is an error the caller falls back from.
func askJSON[T any](ctx context.Context, client llm.Client, system, user string, maxTokens int) (*T, error) {
	text, err := askText(ctx, client, system, user, maxTokens)
	if err != nil {
		return nil, err
	}
	var out T
	if err := llm.ExtractJSON(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// askText runs one non-streaming model call and returns the collected text.
func askText(ctx context.Context, client llm.Client, system, user string, maxTokens int) (string, error) {
	ch, err := client.Generate(ctx, &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	res, err := llm.Collect(ctx, ch)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
