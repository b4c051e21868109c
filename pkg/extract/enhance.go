package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// errNoContainer reports that the strict structural pass found no content
// container; the chain moves on to the next method.
var errNoContainer = errors.New("no content container matched")

// extractArticle is the strict structural pass: it succeeds only when a
// known content selector matches, so marketing pages and app shells fall
// through to the later methods instead of yielding navigation soup.
func extractArticle(html, pageURL string) (*Payload, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	container := findContainer(doc)
	if container == nil {
		return nil, errNoContainer
	}
	return buildHTMLPayload(doc, container, pageURL, "structural"), nil
}

// extractReadable scores block containers by their direct paragraph text
// and extracts the densest one. This recovers articles whose markup carries
// none of the structural selectors.
func extractReadable(html, pageURL string) (*Payload, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	var best *goquery.Selection
	bestScore := 0
	doc.Find("div, section, td").Each(func(_ int, s *goquery.Selection) {
		score := 0
		s.ChildrenFiltered("p").Each(func(_ int, para *goquery.Selection) {
			score += len(strings.TrimSpace(para.Text()))
		})
		if score > bestScore {
			bestScore = score
			best = s
		}
	})
	if best == nil {
		return nil, errors.New("no paragraph-bearing container found")
	}
	return buildHTMLPayload(doc, best, pageURL, "readability"), nil
}

// extractWithArticleLibrary delegates boilerplate removal to the
// readability library, then re-sectionizes its cleaned HTML so the payload
// shape matches the other methods.
func extractWithArticleLibrary(html, pageURL string) (*Payload, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}
	p, err := payloadFromHTML(sanitizeHTML(article.Content), pageURL, "article_library")
	if err != nil {
		return nil, err
	}
	if article.Title != "" {
		p.Title = article.Title
	}
	if p.Description == "" {
		p.Description = strings.TrimSpace(article.Excerpt)
	}
	return p, nil
}

// extractRawText is the last resort: all body text with noise elements
// removed, as a single section.
func extractRawText(html, pageURL string) (*Payload, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	text := normalizeText(doc.Find("body").Text())
	if text == "" {
		return nil, errors.New("document has no text")
	}
	p := &Payload{
		URL:         pageURL,
		Title:       documentTitle(doc),
		Description: documentDescription(doc),
		Sections:    []Section{{Heading: "Content", Content: text}},
		Method:      "raw_text",
	}
	if p.Title == "" {
		p.Title = pageURL
	}
	if p.Description == "" {
		p.Description = leadText(text, 240)
	}
	return p, nil
}
