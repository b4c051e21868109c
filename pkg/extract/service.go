package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/masking"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// ErrNoContent is returned when every extraction method produced less than
// the configured minimum content length.
var ErrNoContent = errors.New("extracted content below minimum length")

// Service is the extraction pipeline front door. One instance exists per
// process; the cache and host gate are shared by every caller.
type Service struct {
	cfg      *config.ExtractionConfig
	fetcher  *Fetcher
	cache    *Cache
	gate     *HostGate
	registry *Registry
	builder  *Builder
	scrubber *masking.Scrubber
	logger   *slog.Logger
}

// NewService wires the extraction pipeline and seeds the converter
// registry. Converter priority only matters when sniffing is ambiguous:
// PDF and image signatures are exact, so they go first.
func NewService(cfg *config.ExtractionConfig, builder *Builder, scrubber *masking.Scrubber,
	vision llm.Client, logger *slog.Logger) (*Service, error) {
	log := logger.With("component", "extract")
	cache, err := NewCache(cfg.CacheDir, cfg.CacheTTL, log)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(log)
	registry.Register(&PDFConverter{}, 10)
	registry.Register(NewImageConverter(vision), 20)
	registry.Register(&HTMLConverter{}, 30)
	registry.Register(&MarkdownConverter{}, 40)

	return &Service{
		cfg:      cfg,
		fetcher:  NewFetcher(cfg),
		cache:    cache,
		gate:     NewHostGate(cfg.HostRatePerSec, cfg.RateMaxWait),
		registry: registry,
		builder:  builder,
		scrubber: scrubber,
		logger:   log,
	}, nil
}

// Cache exposes the extraction cache for the cleanup service's retention
// loop.
func (s *Service) Cache() *Cache { return s.cache }

// Registry exposes the converter registry so callers with in-memory bytes
// (uploads) can convert without fetching.
func (s *Service) Registry() *Registry { return s.registry }

// ExtractURL resolves one URL to a payload: cache hit, else rate-gated
// fetch and type-directed extraction. The returned payload is scrubbed,
// block-scanned, and already cached.
func (s *Service) ExtractURL(ctx context.Context, rawURL string) (*Payload, error) {
	normalized := NormalizeURL(rawURL)
	if cached, ok := s.cache.Get(normalized); ok {
		s.logger.Debug("extraction cache hit", "url", normalized)
		return cached, nil
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if err := s.gate.Acquire(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	urlType := DetectURLType(normalized)
	var payload *Payload
	switch urlType {
	case URLTypePDF:
		payload, err = s.extractStream(ctx, normalized)
	case URLTypeVideo:
		payload, err = s.extractVideo(ctx, normalized)
	case URLTypeRepository:
		payload, err = s.extractRepository(ctx, normalized)
	default:
		payload, err = s.extractEnhanced(ctx, normalized)
	}
	if err != nil {
		return nil, err
	}

	if payload.Type == "" {
		payload.Type = urlType
	}
	payload.URL = normalized
	payload.ExtractedAt = time.Now().UTC()
	s.scrubPayload(payload)
	s.collectBlocks(payload)

	if err := s.cache.Put(normalized, payload); err != nil {
		s.logger.Warn("failed to cache extraction", "url", normalized, "error", err)
	}
	s.logger.Info("extraction complete",
		"url", normalized, "type", payload.Type, "method", payload.Method,
		"sections", len(payload.Sections), "blocks", len(payload.Blocks))
	return payload, nil
}

// ExtractToCards extracts a URL and builds its card tree, reporting stage
// progress through the tracker. The caller owns the tracker's terminal
// transition (complete, fail, cancel).
func (s *Service) ExtractToCards(ctx context.Context, rawURL, canvasID, parentID string,
	tracker *progress.Tracker) (*BuildResult, error) {
	if tracker != nil {
		tracker.Update(ctx, "fetching", 0.1, fmt.Sprintf("Fetching %s", NormalizeURL(rawURL)))
	}
	payload, err := s.ExtractURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if tracker != nil {
		tracker.Update(ctx, "building_cards", 0.5, fmt.Sprintf("Creating cards for %q", payload.Title))
	}
	res, err := s.builder.Build(ctx, canvasID, parentID, payload)
	if res != nil && len(res.CardIDs) > 0 && tracker != nil {
		tracker.Update(ctx, "cards_created", 0.9,
			fmt.Sprintf("Created %d cards", len(res.CardIDs)), res.CardIDs...)
	}
	return res, err
}

// ConvertStream runs raw bytes (an upload, a local file) through the
// converter registry and applies the same scrub and block scan a fetched
// payload gets.
func (s *Service) ConvertStream(ctx context.Context, data []byte, info StreamInfo) (*Payload, error) {
	payload, err := s.registry.Convert(ctx, bytes.NewReader(data), info)
	if err != nil {
		return nil, err
	}
	if payload.Type == "" {
		payload.Type = URLTypeGeneric
	}
	payload.ExtractedAt = time.Now().UTC()
	s.scrubPayload(payload)
	s.collectBlocks(payload)
	return payload, nil
}

// extractStream downloads a URL and routes the bytes through the converter
// registry.
func (s *Service) extractStream(ctx context.Context, rawURL string) (*Payload, error) {
	data, info, err := s.fetcher.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s.registry.Convert(ctx, bytes.NewReader(data), info)
}

// videoIDPattern pulls provider ids out of watch and share URLs.
var videoIDPattern = regexp.MustCompile(`(?:v=|youtu\.be/|/embed/|/video/)([A-Za-z0-9_-]{4,})`)

// extractVideo pulls page metadata only; video content itself is never
// fetched. CardData keeps the card playable.
func (s *Service) extractVideo(ctx context.Context, rawURL string) (*Payload, error) {
	html, err := s.fetcher.FetchHTML(ctx, rawURL, false)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	meta := &VideoMeta{}
	if u, err := url.Parse(rawURL); err == nil {
		meta.Provider = strings.TrimPrefix(u.Hostname(), "www.")
	}
	if m := videoIDPattern.FindStringSubmatch(rawURL); m != nil {
		meta.VideoID = m[1]
	}

	p := &Payload{
		URL:         rawURL,
		Type:        URLTypeVideo,
		Title:       documentTitle(doc),
		Description: documentDescription(doc),
		Video:       meta,
		Method:      "video_metadata",
	}
	if p.Title == "" {
		p.Title = rawURL
	}
	if p.Description != "" {
		p.Sections = []Section{{Heading: "About this video", Content: p.Description}}
	}
	return p, nil
}

// repoContentSelectors find README-style content on code-hosting pages.
var repoContentSelectors = []string{"article", ".markdown-body", "#readme", ".readme", "main"}

// extractRepository targets the README block code hosts render on a
// repository landing page, falling back to the enhanced chain for pages
// that carry none (issue lists, file views).
func (s *Service) extractRepository(ctx context.Context, rawURL string) (*Payload, error) {
	html, err := s.fetcher.FetchHTML(ctx, rawURL, false)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	for _, sel := range repoContentSelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		p := buildHTMLPayload(doc, container, rawURL, "repository_readme")
		if len(p.Text()) >= s.cfg.MinContentLength {
			return p, nil
		}
	}
	s.logger.Debug("no readme block found, using enhanced chain", "url", rawURL)
	return s.runEnhancedChain(ctx, rawURL, html)
}

// extractEnhanced fetches a page and runs the fallback chain over it.
func (s *Service) extractEnhanced(ctx context.Context, rawURL string) (*Payload, error) {
	html, err := s.fetcher.FetchHTML(ctx, rawURL, false)
	if err != nil {
		return nil, err
	}
	return s.runEnhancedChain(ctx, rawURL, html)
}

// runEnhancedChain tries extraction methods in order: strict structural
// selectors, a browser-agent refetch scored by paragraph density, the
// readability library, raw text. The first payload whose text reaches the
// configured minimum length wins.
func (s *Service) runEnhancedChain(ctx context.Context, rawURL, html string) (*Payload, error) {
	type stage struct {
		name string
		run  func() (*Payload, error)
	}
	stages := []stage{
		{"structural", func() (*Payload, error) {
			return extractArticle(html, rawURL)
		}},
		{"readability", func() (*Payload, error) {
			rendered, err := s.fetcher.FetchHTML(ctx, rawURL, true)
			if err != nil {
				return nil, err
			}
			return extractReadable(rendered, rawURL)
		}},
		{"article_library", func() (*Payload, error) {
			return extractWithArticleLibrary(html, rawURL)
		}},
		{"raw_text", func() (*Payload, error) {
			return extractRawText(html, rawURL)
		}},
	}

	var lastErr error
	sawPayload := false
	for _, st := range stages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p, err := st.run()
		if err != nil {
			s.logger.Debug("extraction method failed", "method", st.name, "url", rawURL, "error", err)
			lastErr = err
			continue
		}
		if len(p.Text()) >= s.cfg.MinContentLength {
			return p, nil
		}
		sawPayload = true
		s.logger.Debug("extraction method below minimum length",
			"method", st.name, "url", rawURL, "length", len(p.Text()))
	}
	// A short page is reported as such even when some methods errored on it.
	if sawPayload {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, rawURL)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all extraction methods failed for %s: %w", rawURL, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoContent, rawURL)
}

// scrubPayload masks credential-shaped values everywhere cache- or
// model-visible.
func (s *Service) scrubPayload(p *Payload) {
	p.Title = s.scrubber.Scrub(p.Title)
	p.Description = s.scrubber.Scrub(p.Description)
	for i := range p.Sections {
		p.Sections[i].Content = s.scrubber.Scrub(p.Sections[i].Content)
	}
}

// collectBlocks detects example blocks across all sections.
func (s *Service) collectBlocks(p *Payload) {
	var blocks []CodeBlock
	for _, sec := range p.Sections {
		blocks = append(blocks, DetectBlocks(sec.Content)...)
	}
	p.Blocks = blocks
}
