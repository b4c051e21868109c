package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/version"
)

// Source is one bibliographic search result. Generated marks entries the
// model produced when the works API had nothing; those are reading leads,
// not verified literature, and are surfaced as llm_generated to the user.
type Source struct {
	Title     string   `json:"title"`
	Authors   []string `json:"authors,omitempty"`
	Venue     string   `json:"venue,omitempty"`
	Year      int      `json:"year,omitempty"`
	DOI       string   `json:"doi,omitempty"`
	URL       string   `json:"url,omitempty"`
	Generated bool     `json:"llm_generated,omitempty"`
}

// Label renders the source as a one-line citation.
func (s Source) Label() string {
	var b strings.Builder
	b.WriteString(s.Title)
	if len(s.Authors) > 0 {
		b.WriteString(" by ")
		b.WriteString(strings.Join(s.Authors, ", "))
	}
	if s.Venue != "" {
		fmt.Fprintf(&b, " (%s", s.Venue)
		if s.Year > 0 {
			fmt.Fprintf(&b, ", %d", s.Year)
		}
		b.WriteString(")")
	} else if s.Year > 0 {
		fmt.Fprintf(&b, " (%d)", s.Year)
	}
	if s.Generated {
		b.WriteString(" [unverified, model-suggested]")
	}
	return b.String()
}

// Ref returns the best stable reference for the source: DOI URL, then the
// publisher URL, then nothing.
func (s Source) Ref() string {
	if s.DOI != "" {
		return "https://doi.org/" + s.DOI
	}
	return s.URL
}

// AcademicClient queries a Crossref-compatible works API for published
// literature. Requests carry the app user agent; MailTo joins the Crossref
// polite pool when configured.
type AcademicClient struct {
	baseURL    string
	rows       int
	mailto     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAcademicClient creates an academic search client from configuration.
func NewAcademicClient(cfg *config.ResearchConfig, logger *slog.Logger) *AcademicClient {
	if cfg == nil {
		cfg = config.DefaultResearchConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AcademicClient{
		baseURL:    strings.TrimRight(cfg.AcademicBaseURL, "/"),
		rows:       cfg.AcademicRows,
		mailto:     cfg.MailTo,
		httpClient: &http.Client{Timeout: cfg.AcademicTimeout},
		logger:     logger.With("component", "academic"),
	}
}

// worksResponse mirrors the slice of the Crossref works envelope we read.
type worksResponse struct {
	Message struct {
		Items []workItem `json:"items"`
	} `json:"message"`
}

type workItem struct {
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Author         []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	DOI string `json:"DOI"`
	URL string `json:"URL"`
}

func (w workItem) toSource() Source {
	s := Source{DOI: w.DOI, URL: w.URL}
	if len(w.Title) > 0 {
		s.Title = strings.TrimSpace(w.Title[0])
	}
	if len(w.ContainerTitle) > 0 {
		s.Venue = strings.TrimSpace(w.ContainerTitle[0])
	}
	for _, a := range w.Author {
		name := strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
		if name != "" {
			s.Authors = append(s.Authors, name)
		}
	}
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		s.Year = w.Issued.DateParts[0][0]
	}
	return s
}

// Search queries the works API. rows below 1 falls back to the configured
// default. Items without a title are dropped; an empty result is not an
// error.
func (c *AcademicClient) Search(ctx context.Context, query string, rows int) ([]Source, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("academic search: query is empty")
	}
	if rows < 1 {
		rows = c.rows
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("rows", strconv.Itoa(rows))
	params.Set("select", "title,author,container-title,issued,DOI,URL")
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/works?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("academic search: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("academic search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("academic search: works API returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body worksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("academic search: decode response: %w", err)
	}

	sources := make([]Source, 0, len(body.Message.Items))
	for _, item := range body.Message.Items {
		src := item.toSource()
		if src.Title == "" {
			continue
		}
		sources = append(sources, src)
	}
	c.logger.Debug("academic search", "query", query, "results", len(sources))
	return sources, nil
}

const suggestSourcesPrompt = `You suggest published literature for a study topic.

List real, well-known books, papers, or articles you are confident exist. Prefer foundational or widely cited works over obscure ones. Never invent a DOI; omit fields you are unsure of.

Respond with a single JSON object and nothing else:
{"sources": [{"title": "...", "authors": ["..."], "venue": "...", "year": 2017}]}`

type sourceList struct {
	Sources []Source `json:"sources"`
}

// suggestSources asks the model for likely literature when the works API is
// unreachable or returned nothing. Every result is marked Generated.
func suggestSources(ctx context.Context, client llm.Client, topic string, n int) ([]Source, error) {
	prompt := fmt.Sprintf("Suggest up to %d sources on: %s", n, topic)
	out, err := askJSON[sourceList](ctx, client, suggestSourcesPrompt, prompt, 0)
	if err != nil {
		return nil, fmt.Errorf("suggest sources: %w", err)
	}
	sources := make([]Source, 0, len(out.Sources))
	for _, src := range out.Sources {
		if strings.TrimSpace(src.Title) == "" {
			continue
		}
		src.Generated = true
		src.DOI = "" // never trust a generated DOI
		sources = append(sources, src)
	}
	if len(sources) > n {
		sources = sources[:n]
	}
	return sources, nil
}
