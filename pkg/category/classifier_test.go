package category

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
)

// fakeChat returns a scripted text response for every Generate call.
type fakeChat struct {
	text string
	err  error
}

func (f *fakeChat) Generate(_ context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.Chunk, 1)
	ch <- &llm.TextChunk{Content: f.text}
	close(ch)
	return ch, nil
}

func (f *fakeChat) Close() error { return nil }

func testProfiles() map[string]*models.CategoryProfile {
	return map[string]*models.CategoryProfile{
		"cat-1": {ID: "cat-1", Name: "Programming", Description: "code things"},
		"cat-2": {ID: "cat-2", Name: "Research", Description: "paper things"},
	}
}

func testCandidates() []Candidate {
	return []Candidate{
		{ID: "cat-1", Combined: 0.8, Semantic: 1, Lexical: 0.5},
		{ID: "cat-2", Combined: 0.3, Semantic: 0.5, Lexical: 0},
	}
}

func newTestClassifier(chat llm.Client) *Classifier {
	return NewClassifier(chat, config.DefaultClassifierConfig(), slog.Default())
}

func TestClassifier_ValidMatch(t *testing.T) {
	c := newTestClassifier(&fakeChat{
		text: `{"action": "match", "category_id": "cat-1", "confidence": 0.9}`,
	})
	d, err := c.Decide(context.Background(), "some code", testCandidates(), testProfiles())
	require.NoError(t, err)
	assert.Equal(t, ActionMatch, d.Action)
	assert.Equal(t, "cat-1", d.CategoryID)
	assert.Equal(t, 0.9, d.Confidence)
	assert.False(t, d.Fallback)
}

func TestClassifier_FencedJSONTolerated(t *testing.T) {
	c := newTestClassifier(&fakeChat{
		text: "Here is my decision:\n```json\n{\"action\": \"uncategorized\", \"confidence\": 0.2}\n```\nDone.",
	})
	d, err := c.Decide(context.Background(), "??", testCandidates(), testProfiles())
	require.NoError(t, err)
	assert.Equal(t, ActionUncategorized, d.Action)
	assert.False(t, d.Fallback)
}

func TestClassifier_UnknownCategoryFallsBack(t *testing.T) {
	c := newTestClassifier(&fakeChat{
		text: `{"action": "match", "category_id": "made-up", "confidence": 0.9}`,
	})
	d, err := c.Decide(context.Background(), "some code", testCandidates(), testProfiles())
	require.NoError(t, err)
	// Best candidate scores 0.8 >= 0.6, so the fallback matches it.
	assert.Equal(t, ActionMatch, d.Action)
	assert.Equal(t, "cat-1", d.CategoryID)
	assert.True(t, d.Fallback)
}

func TestClassifier_CreateNewRequiresPayload(t *testing.T) {
	c := newTestClassifier(&fakeChat{
		text: `{"action": "create_new", "confidence": 0.9, "new_category": {"name": "X"}}`,
	})
	weak := []Candidate{{ID: "cat-2", Combined: 0.4}}
	d, err := c.Decide(context.Background(), "something", weak, testProfiles())
	require.NoError(t, err)
	// Fallback with best candidate below 0.6 is uncategorized.
	assert.Equal(t, ActionUncategorized, d.Action)
	assert.True(t, d.Fallback)
}

func TestClassifier_ValidCreateNew(t *testing.T) {
	c := newTestClassifier(&fakeChat{
		text: `{"action": "create_new", "confidence": 0.85, "new_category": {"name": "Cooking", "description": "Recipes and technique.", "keywords": ["recipe", "oven"]}}`,
	})
	d, err := c.Decide(context.Background(), "how to roast", nil, testProfiles())
	require.NoError(t, err)
	assert.Equal(t, ActionCreateNew, d.Action)
	require.NotNil(t, d.NewCategory)
	assert.Equal(t, "Cooking", d.NewCategory.Name)
}

func TestClassifier_GenerateErrorFallsBack(t *testing.T) {
	c := newTestClassifier(&fakeChat{err: errors.New("provider down")})
	d, err := c.Decide(context.Background(), "some code", testCandidates(), testProfiles())
	require.NoError(t, err)
	assert.Equal(t, ActionMatch, d.Action)
	assert.Equal(t, "cat-1", d.CategoryID)
	assert.True(t, d.Fallback)
}

func TestClassifier_ContextCancellationSurfaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClassifier(&fakeChat{err: errors.New("whatever")})
	_, err := c.Decide(ctx, "text", testCandidates(), testProfiles())
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifier_ConfidenceOutOfRangeFallsBack(t *testing.T) {
	c := newTestClassifier(&fakeChat{
		text: `{"action": "match", "category_id": "cat-1", "confidence": 1.7}`,
	})
	d, err := c.Decide(context.Background(), "some code", testCandidates(), testProfiles())
	require.NoError(t, err)
	assert.True(t, d.Fallback)
}

func TestFallback(t *testing.T) {
	d := Fallback(nil, 0.6)
	assert.Equal(t, ActionUncategorized, d.Action)
	assert.True(t, d.Fallback)

	d = Fallback([]Candidate{{ID: "p", Combined: 0.61}}, 0.6)
	assert.Equal(t, ActionMatch, d.Action)
	assert.Equal(t, "p", d.CategoryID)
	assert.Equal(t, 0.61, d.Confidence)

	d = Fallback([]Candidate{{ID: "p", Combined: 0.59}}, 0.6)
	assert.Equal(t, ActionUncategorized, d.Action)
}
