package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFConverter extracts the text layer of PDF documents. A scanned PDF with
// no text layer converts to nothing and errors, which lets the registry try
// any later converter.
type PDFConverter struct{}

func (c *PDFConverter) Name() string { return "pdf" }

func (c *PDFConverter) Accepts(info StreamInfo) bool {
	return info.MimeType == "application/pdf" || info.Extension == ".pdf"
}

func (c *PDFConverter) Convert(_ context.Context, r io.ReadSeeker, info StreamInfo) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf stream: %w", err)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}
	text := normalizeText(buf.String())
	if text == "" {
		return nil, errors.New("pdf has no text layer")
	}

	title := strings.TrimSuffix(info.Filename, info.Extension)
	if title == "" {
		title = "PDF document"
	}
	return &Payload{
		URL:         info.URL,
		Type:        URLTypePDF,
		Title:       title,
		Description: leadText(text, 240),
		Sections:    []Section{{Heading: "Document", Content: text}},
		Method:      "pdf_text_layer",
	}, nil
}
