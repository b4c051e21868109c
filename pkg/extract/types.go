// Package extract turns URLs and byte streams into structured payloads and
// canvas cards.
//
// The pipeline is: cache lookup, per-host rate gate, type-directed
// extraction (with a fallback chain for article-like pages), secret
// scrubbing, cache write. Card construction is a separate step so callers
// that only need the payload (tools, deep research) can stop after
// extraction.
package extract

import (
	"strings"
	"time"
)

// URLType classifies a URL by extraction strategy.
type URLType string

const (
	// URLTypeRepository is a code-hosting page; extraction targets the
	// rendered README block.
	URLTypeRepository URLType = "repository"
	// URLTypeVideo is a video page; only metadata is extracted.
	URLTypeVideo URLType = "video"
	// URLTypeDocumentation is a docs site; uses the enhanced chain.
	URLTypeDocumentation URLType = "documentation"
	// URLTypePDF is a direct PDF link; bytes go through the converter
	// registry.
	URLTypePDF URLType = "pdf"
	// URLTypeGeneric is everything else; uses the enhanced chain.
	URLTypeGeneric URLType = "generic"
)

// IsValid checks if the URL type is one of the known set.
func (t URLType) IsValid() bool {
	switch t {
	case URLTypeRepository, URLTypeVideo, URLTypeDocumentation, URLTypePDF, URLTypeGeneric:
		return true
	default:
		return false
	}
}

// BlockKind labels a detected example block.
type BlockKind string

const (
	BlockKindExample BlockKind = "example"
	BlockKindPattern BlockKind = "pattern"
	BlockKindUsage   BlockKind = "usage"
)

// GroupTitle returns the grouping card title for this block kind. Example
// and usage blocks group under "Examples"; pattern blocks under "Patterns".
func (k BlockKind) GroupTitle() string {
	if k == BlockKindPattern {
		return "Patterns"
	}
	return "Examples"
}

// Section is one heading-delimited span of an extracted document.
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// CodeBlock is an "Example:" / "Pattern:" / "Usage:" block detected in
// extracted content. Concept is the short name on the marker line when one
// is present; it is matched against existing card titles to create
// demonstrates edges.
type CodeBlock struct {
	Kind    BlockKind `json:"kind"`
	Concept string    `json:"concept,omitempty"`
	Content string    `json:"content"`
}

// VideoMeta carries playback hints for video URLs.
type VideoMeta struct {
	Provider string `json:"provider,omitempty"`
	VideoID  string `json:"video_id,omitempty"`
}

// Payload is the structured result of one extraction. Method names the
// extraction method that produced the content, which is how fallback-chain
// behavior stays debuggable in the cache.
type Payload struct {
	URL         string      `json:"url"`
	Type        URLType     `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Sections    []Section   `json:"sections,omitempty"`
	Blocks      []CodeBlock `json:"blocks,omitempty"`
	Video       *VideoMeta  `json:"video,omitempty"`
	Method      string      `json:"method,omitempty"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

// Text returns the description and all section content joined, for length
// checks and embedding.
func (p *Payload) Text() string {
	parts := make([]string, 0, len(p.Sections)+1)
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	for _, s := range p.Sections {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, "\n\n")
}
