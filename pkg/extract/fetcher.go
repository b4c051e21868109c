package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/viacanvas/intelligence/pkg/config"
)

const (
	defaultUserAgent = "via-intelligence/1.0 (+https://viacanvas.app/bot)"

	// browserUserAgent is used by the readability refetch. Some sites serve
	// a fuller server-rendered document to browser agents than to bots.
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	// maxBodyBytes caps any single response body read.
	maxBodyBytes = 16 << 20
)

// Fetcher issues outbound HTTP requests with the configured timeout and
// user agent. Rate limiting happens before the fetcher is reached.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher builds a fetcher from the extraction config.
func NewFetcher(cfg *config.ExtractionConfig) *Fetcher {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		userAgent: ua,
	}
}

// FetchHTML GETs a page and returns its body as a string. Non-2xx statuses
// are errors. asBrowser switches to a browser user agent for sites that
// vary rendering on it.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string, asBrowser bool) (string, error) {
	resp, err := f.get(ctx, rawURL, asBrowser)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return string(body), nil
}

// Download GETs a URL and returns the raw bytes plus a StreamInfo built
// from the response headers and URL path. The converter registry sniffs
// magic bytes on top of this, so header lies are survivable.
func (f *Fetcher) Download(ctx context.Context, rawURL string) ([]byte, StreamInfo, error) {
	info := StreamInfo{URL: rawURL}
	resp, err := f.get(ctx, rawURL, false)
	if err != nil {
		return nil, info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, info, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	if mt, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		info.MimeType = mt
		info.Charset = params["charset"]
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		info.Filename = params["filename"]
	}
	if info.Filename == "" {
		if u, err := url.Parse(rawURL); err == nil {
			if base := path.Base(u.Path); base != "/" && base != "." {
				info.Filename = base
			}
		}
	}
	info.Extension = strings.ToLower(path.Ext(info.Filename))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, info, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, info, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, asBrowser bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	ua := f.userAgent
	if asBrowser {
		ua = browserUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,*/*;q=0.8")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	return resp, nil
}
