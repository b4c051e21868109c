package extract

import (
	"context"
	"fmt"
	"io"
)

// HTMLConverter extracts structured content from HTML files and streams.
type HTMLConverter struct{}

func (c *HTMLConverter) Name() string { return "html" }

func (c *HTMLConverter) Accepts(info StreamInfo) bool {
	switch {
	case info.MimeType == "text/html", info.MimeType == "application/xhtml+xml":
		return true
	case info.Extension == ".html", info.Extension == ".htm":
		return true
	}
	return false
}

func (c *HTMLConverter) Convert(_ context.Context, r io.ReadSeeker, info StreamInfo) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html stream: %w", err)
	}
	return payloadFromHTML(string(data), info.URL, "html_converter")
}
