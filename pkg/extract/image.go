package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/viacanvas/intelligence/pkg/llm"
)

// visionPrompt asks for a faithful transcription rather than an
// interpretation; extracted text lands on cards verbatim.
const visionPrompt = "Describe this image for a knowledge card. Start with a one-line summary, " +
	"then transcribe any visible text, code, or diagram labels exactly as written."

var imageMediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ImageConverter describes images through the vision-capable chat model.
type ImageConverter struct {
	client llm.Client
}

// NewImageConverter builds an image converter on the given model client.
func NewImageConverter(client llm.Client) *ImageConverter {
	return &ImageConverter{client: client}
}

func (c *ImageConverter) Name() string { return "image_vision" }

func (c *ImageConverter) Accepts(info StreamInfo) bool {
	if strings.HasPrefix(info.MimeType, "image/") {
		return true
	}
	_, ok := imageMediaTypes[info.Extension]
	return ok
}

func (c *ImageConverter) Convert(ctx context.Context, r io.ReadSeeker, info StreamInfo) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image stream: %w", err)
	}
	mediaType := info.MimeType
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = imageMediaTypes[info.Extension]
	}

	ch, err := c.client.Generate(ctx, &llm.GenerateInput{
		Messages: []llm.ConversationMessage{{
			Role:    llm.RoleUser,
			Content: visionPrompt,
			Images:  []llm.ImageAttachment{{MediaType: mediaType, Data: data}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision call: %w", err)
	}
	result, err := llm.Collect(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("vision call: %w", err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, errors.New("vision model returned no description")
	}

	title := info.Filename
	if title == "" {
		title = "Image"
	}
	return &Payload{
		URL:         info.URL,
		Type:        URLTypeGeneric,
		Title:       title,
		Description: leadText(text, 240),
		Sections:    []Section{{Heading: "Image content", Content: text}},
		Method:      "image_vision",
	}, nil
}
