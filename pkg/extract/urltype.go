package extract

import (
	"net/url"
	"strings"
)

// Host tables for URL type detection. Matching is by exact host or any
// subdomain of a listed host.
var (
	repositoryHosts = []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org", "sr.ht"}
	videoHosts      = []string{"youtube.com", "youtu.be", "vimeo.com", "dailymotion.com", "twitch.tv"}
	docHosts        = []string{"readthedocs.io", "pkg.go.dev", "developer.mozilla.org", "devdocs.io"}
)

// NormalizeURL adds an https scheme when none is present so bare hosts
// typed into chat ("kiro.dev") resolve as URLs.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" || strings.Contains(trimmed, "://") {
		return trimmed
	}
	return "https://" + trimmed
}

// DetectURLType classifies a URL by host and path. The PDF check runs
// first: a .pdf link on a repository host still needs the converter, not
// the README extractor. Unparseable URLs are generic; the fetch surfaces
// the real error.
func DetectURLType(rawURL string) URLType {
	u, err := url.Parse(NormalizeURL(rawURL))
	if err != nil || u.Host == "" {
		return URLTypeGeneric
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	if strings.HasSuffix(path, ".pdf") {
		return URLTypePDF
	}
	if hostMatches(host, repositoryHosts) {
		return URLTypeRepository
	}
	if hostMatches(host, videoHosts) {
		return URLTypeVideo
	}
	if strings.HasPrefix(host, "docs.") || strings.Contains(host, ".docs.") ||
		strings.Contains(path, "/docs/") || strings.Contains(path, "/documentation/") ||
		hostMatches(host, docHosts) {
		return URLTypeDocumentation
	}
	return URLTypeGeneric
}

func hostMatches(host string, table []string) bool {
	for _, h := range table {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
