package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectURLType(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want URLType
	}{
		{"github repo", "https://github.com/golang/go", URLTypeRepository},
		{"gitlab subgroup", "https://gitlab.com/group/sub/project", URLTypeRepository},
		{"codeberg", "https://codeberg.org/forgejo/forgejo", URLTypeRepository},
		{"youtube watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", URLTypeVideo},
		{"youtube short link", "https://youtu.be/dQw4w9WgXcQ", URLTypeVideo},
		{"vimeo", "https://vimeo.com/148751763", URLTypeVideo},
		{"docs subdomain", "https://docs.python.org/3/tutorial/", URLTypeDocumentation},
		{"docs path", "https://kubernetes.io/docs/concepts/", URLTypeDocumentation},
		{"readthedocs", "https://requests.readthedocs.io/en/latest/", URLTypeDocumentation},
		{"pkg.go.dev", "https://pkg.go.dev/net/http", URLTypeDocumentation},
		{"pdf link", "https://arxiv.org/pdf/1706.03762.pdf", URLTypePDF},
		{"pdf beats repository host", "https://github.com/user/repo/raw/main/paper.pdf", URLTypePDF},
		{"plain article", "https://example.com/blog/some-post", URLTypeGeneric},
		{"bare host", "kiro.dev", URLTypeGeneric},
		{"empty", "", URLTypeGeneric},
		{"garbage", "ht tp://%%%", URLTypeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectURLType(tt.url))
		})
	}
}

func TestDetectURLType_SubdomainsMatchHostTables(t *testing.T) {
	assert.Equal(t, URLTypeVideo, DetectURLType("https://m.youtube.com/watch?v=abc123def"))
	assert.Equal(t, URLTypeRepository, DetectURLType("https://gist.github.com/user/123"))
	// A host merely containing a listed name is not a subdomain of it.
	assert.Equal(t, URLTypeGeneric, DetectURLType("https://notgithub.company.example/repo"))
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://kiro.dev", NormalizeURL("kiro.dev"))
	assert.Equal(t, "https://kiro.dev", NormalizeURL("  kiro.dev  "))
	assert.Equal(t, "http://example.com", NormalizeURL("http://example.com"))
	assert.Equal(t, "", NormalizeURL(""))
}

func TestURLTypeIsValid(t *testing.T) {
	for _, typ := range []URLType{URLTypeRepository, URLTypeVideo, URLTypeDocumentation, URLTypePDF, URLTypeGeneric} {
		assert.True(t, typ.IsValid(), typ)
	}
	assert.False(t, URLType("webpage").IsValid())
	assert.False(t, URLType("").IsValid())
}
