package category

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/models"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases and splits", "Goroutines AND Channels", []string{"goroutines", "channels"}},
		{"drops stopwords", "the quick fox is in the box", []string{"quick", "fox", "box"}},
		{"drops single chars", "a b c go", []string{"go"}},
		{"punctuation boundaries", "net/http.Client{}", []string{"net", "http", "client"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	texts := []string{
		"goroutines goroutines channels",
		"channels select goroutines",
	}
	kws := ExtractKeywords(texts, 2)
	require.Len(t, kws, 2)
	assert.Equal(t, "goroutines", kws[0].Term)
	assert.Equal(t, 1.0, kws[0].Score)
	assert.Equal(t, "channels", kws[1].Term)
	assert.InDelta(t, 2.0/3.0, kws[1].Score, 1e-9)

	assert.Nil(t, ExtractKeywords(nil, 5))
	assert.Nil(t, ExtractKeywords([]string{"the a an"}, 5))
}

func TestExtractKeywords_TiesAlphabetical(t *testing.T) {
	kws := ExtractKeywords([]string{"zebra apple zebra apple mango"}, 3)
	require.Len(t, kws, 3)
	assert.Equal(t, "apple", kws[0].Term)
	assert.Equal(t, "zebra", kws[1].Term)
	assert.Equal(t, "mango", kws[2].Term)
}

func TestMakeSnippets(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := MakeSnippets([]string{"  first  ", "", long, "fourth"}, 3, 150)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0])
	assert.Equal(t, 150, len([]rune(got[1])))
	assert.Equal(t, "fourth", got[2])
}

func kw(pairs ...any) []models.KeywordScore {
	out := make([]models.KeywordScore, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, models.KeywordScore{Term: pairs[i].(string), Score: pairs[i+1].(float64)})
	}
	return out
}

func TestKeywordIndex_Search(t *testing.T) {
	idx := NewKeywordIndex(1.5, 0.75)
	idx.Upsert("prog", kw("code", 1.0, "api", 0.8, "function", 0.6))
	idx.Upsert("docs", kw("guide", 1.0, "tutorial", 0.9, "api", 0.4))
	idx.Upsert("research", kw("paper", 1.0, "study", 0.7))

	hits := idx.Search([]string{"code", "api"}, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "prog", hits[0].ID) // matches both terms, higher tf on the shared one
	assert.Equal(t, "docs", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	assert.Empty(t, idx.Search([]string{"nonexistent"}, 10))
	assert.Empty(t, idx.Search(nil, 10))
}

func TestKeywordIndex_IDFStaysPositiveForCommonTerms(t *testing.T) {
	idx := NewKeywordIndex(1.5, 0.75)
	idx.Upsert("a", kw("shared", 1.0))
	idx.Upsert("b", kw("shared", 1.0))
	idx.Upsert("c", kw("shared", 1.0))

	hits := idx.Search([]string{"shared"}, 10)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
	}
}

func TestKeywordIndex_UpsertReplacesAndRemoveDrops(t *testing.T) {
	idx := NewKeywordIndex(1.5, 0.75)
	idx.Upsert("p", kw("old", 1.0))
	idx.Upsert("p", kw("new", 1.0))

	assert.Empty(t, idx.Search([]string{"old"}, 10))
	assert.Len(t, idx.Search([]string{"new"}, 10), 1)

	idx.Remove("p")
	assert.Empty(t, idx.Search([]string{"new"}, 10))
	assert.Equal(t, 0, idx.Len())
}

func TestKeywordIndex_TopKAndTies(t *testing.T) {
	idx := NewKeywordIndex(1.5, 0.75)
	idx.Upsert("b", kw("term", 1.0))
	idx.Upsert("a", kw("term", 1.0))
	idx.Upsert("c", kw("term", 1.0, "extra", 1.0))

	hits := idx.Search([]string{"term"}, 2)
	require.Len(t, hits, 2)
	// a and b tie exactly; c's longer document is penalized below them.
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
}

func TestVectorIndex_Search(t *testing.T) {
	idx := NewVectorIndex()
	idx.Upsert("x", []float32{1, 0})
	idx.Upsert("y", []float32{0.6, 0.8})
	idx.Upsert("zero", nil) // seed profile without a learned centroid

	hits := idx.Search([]float32{1, 0}, 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "y", hits[1].ID)

	idx.Remove("x")
	hits = idx.Search([]float32{1, 0}, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "y", hits[0].ID)
}
