package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBlocks_MarkerWithConcept(t *testing.T) {
	text := "Some intro prose.\n" +
		"Example: binary search\n" +
		"func search(xs []int, target int) int {\n" +
		"    // ...\n" +
		"}\n" +
		"\n" +
		"Trailing prose."

	blocks := DetectBlocks(text)
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockKindExample, blocks[0].Kind)
	assert.Equal(t, "binary search", blocks[0].Concept)
	assert.Contains(t, blocks[0].Content, "func search")
	assert.NotContains(t, blocks[0].Content, "Trailing prose")
}

func TestDetectBlocks_LongRemainderStartsBodyNotConcept(t *testing.T) {
	text := "Usage: run the following command from the repository root to start the local development server."

	blocks := DetectBlocks(text)
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Concept)
	assert.Contains(t, blocks[0].Content, "run the following command")
}

func TestDetectBlocks_MarkerTerminatesPreviousBlock(t *testing.T) {
	text := "Pattern: worker pool\n" +
		"spawn N goroutines reading one channel\n" +
		"Example: fan-in\n" +
		"merge result channels into one"

	blocks := DetectBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, BlockKindPattern, blocks[0].Kind)
	assert.Equal(t, "worker pool", blocks[0].Concept)
	assert.NotContains(t, blocks[0].Content, "fan-in")
	assert.Equal(t, BlockKindExample, blocks[1].Kind)
	assert.Equal(t, "fan-in", blocks[1].Concept)
}

func TestDetectBlocks_ConceptOnlyMarkerKeepsConceptAsContent(t *testing.T) {
	text := "Example: quicksort\n\nUnrelated paragraph."

	blocks := DetectBlocks(text)
	require.Len(t, blocks, 1)
	assert.Equal(t, "quicksort", blocks[0].Concept)
	assert.Equal(t, "quicksort", blocks[0].Content)
}

func TestDetectBlocks_CaseInsensitiveMarkers(t *testing.T) {
	text := "EXAMPLE: caching\nstore hot values\n\nusage: cache.Get(key)\n"

	blocks := DetectBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, BlockKindExample, blocks[0].Kind)
	assert.Equal(t, BlockKindUsage, blocks[1].Kind)
}

func TestDetectBlocks_ProseWithoutMarkers(t *testing.T) {
	assert.Empty(t, DetectBlocks("Just a paragraph about goroutines.\nAnd another line."))
	assert.Empty(t, DetectBlocks(""))
	// A bare marker with nothing after it is not a block.
	assert.Empty(t, DetectBlocks("Example:\n\n"))
}

func TestBlockKindGroupTitle(t *testing.T) {
	assert.Equal(t, "Examples", BlockKindExample.GroupTitle())
	assert.Equal(t, "Examples", BlockKindUsage.GroupTitle())
	assert.Equal(t, "Patterns", BlockKindPattern.GroupTitle())
}
