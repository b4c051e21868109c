package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// noiseSelector matches elements that never carry article content. They are
// removed wholesale so their text cannot leak into sections.
const noiseSelector = "script, style, noscript, nav, header, footer, aside, form, iframe, svg, button"

// contentSelectors are tried in order to find the main content container of
// an article-like page.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".markdown-body",
	"#readme",
	"#content",
	".content",
	".post",
	".documentation",
}

// sanitizePolicy strips scripts, inline handlers, and embedded objects from
// HTML that is re-emitted as HTML (markdown rendering, readability output).
// Safe for concurrent use.
var sanitizePolicy = bluemonday.UGCPolicy()

func sanitizeHTML(html string) string {
	return sanitizePolicy.Sanitize(html)
}

// parseDocument parses HTML and strips noise elements.
func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noiseSelector).Remove()
	return doc, nil
}

// documentTitle pulls the page title: og:title, then <title>, then the
// first h1.
func documentTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// documentDescription pulls the page description, preferring og:description
// over the plain meta description.
func documentDescription(doc *goquery.Document) string {
	if d := strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", "")); d != "" {
		return d
	}
	return strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
}

// findContainer returns the first selector match, or nil when no content
// container exists. Callers that can tolerate anything fall back to body.
func findContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// sectionsOf splits a container into heading-delimited sections. Content
// before the first heading becomes an Introduction section; headings whose
// following siblings carry no text are dropped; documents without usable
// headings yield a single Overview section.
func sectionsOf(container *goquery.Selection) []Section {
	var sections []Section

	headings := container.Find("h1, h2, h3")
	if lead := leadSiblingsText(headings.First()); lead != "" {
		sections = append(sections, Section{Heading: "Introduction", Content: lead})
	}
	headings.Each(func(_ int, h *goquery.Selection) {
		heading := normalizeText(h.Text())
		content := normalizeText(h.NextUntil("h1, h2, h3").Text())
		if heading == "" || content == "" {
			return
		}
		sections = append(sections, Section{Heading: heading, Content: content})
	})

	if len(sections) == 0 {
		if text := normalizeText(container.Text()); text != "" {
			sections = append(sections, Section{Heading: "Overview", Content: text})
		}
	}
	return sections
}

// leadSiblingsText collects the text of siblings preceding the first
// heading, in document order. PrevAll returns nearest-first, so the walk
// is reversed.
func leadSiblingsText(first *goquery.Selection) string {
	if first == nil || first.Length() == 0 {
		return ""
	}
	prev := first.PrevAll()
	parts := make([]string, 0, prev.Length())
	for i := prev.Length() - 1; i >= 0; i-- {
		parts = append(parts, prev.Eq(i).Text())
	}
	return normalizeText(strings.Join(parts, "\n"))
}

// payloadFromHTML runs the full structural extraction over an HTML
// document. The container falls back to body when no content selector
// matches; extractArticle is the strict variant.
func payloadFromHTML(html, pageURL, method string) (*Payload, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	container := findContainer(doc)
	if container == nil {
		container = doc.Find("body")
	}
	return buildHTMLPayload(doc, container, pageURL, method), nil
}

// buildHTMLPayload assembles a payload from a parsed document and its
// chosen content container.
func buildHTMLPayload(doc *goquery.Document, container *goquery.Selection, pageURL, method string) *Payload {
	p := &Payload{
		URL:         pageURL,
		Title:       documentTitle(doc),
		Description: documentDescription(doc),
		Sections:    sectionsOf(container),
		Method:      method,
	}
	if p.Description == "" && len(p.Sections) > 0 {
		p.Description = leadText(p.Sections[0].Content, 240)
	}
	if p.Title == "" {
		p.Title = pageURL
	}
	return p
}

// normalizeText trims lines, collapses runs of spaces, and reduces blank
// runs to single paragraph breaks. Line structure is preserved so block
// markers ("Example:") stay at line starts for detection.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// leadText returns the first max characters of text cut at a word boundary,
// with newlines flattened. Used for generated descriptions.
func leadText(text string, max int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) <= max {
		return flat
	}
	cut := strings.LastIndex(flat[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return flat[:cut] + "..."
}
