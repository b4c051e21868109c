package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownConverter renders markdown to sanitized HTML and extracts it
// structurally, so markdown headings become sections exactly like web
// content does.
type MarkdownConverter struct{}

func (c *MarkdownConverter) Name() string { return "markdown" }

func (c *MarkdownConverter) Accepts(info StreamInfo) bool {
	switch {
	case info.MimeType == "text/markdown":
		return true
	case info.Extension == ".md", info.Extension == ".markdown":
		return true
	}
	return false
}

func (c *MarkdownConverter) Convert(_ context.Context, r io.ReadSeeker, info StreamInfo) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown stream: %w", err)
	}
	return payloadFromHTML(renderMarkdown(data), info.URL, "markdown")
}

// renderMarkdown converts markdown to sanitized HTML.
func renderMarkdown(src []byte) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(src)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return sanitizeHTML(string(markdown.Render(doc, renderer)))
}
