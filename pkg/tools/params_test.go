package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArguments_JSONObject(t *testing.T) {
	args, err := ParseArguments(`{"url": "https://example.com", "limit": 5, "force": true}`)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", args.String("url"))
	assert.Equal(t, 5, args.Int("limit"))
	assert.True(t, args.Bool("force"))
}

func TestParseArguments_Empty(t *testing.T) {
	args, err := ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseArguments("   \n ")
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestParseArguments_NonObjectJSONWrapsUnderInput(t *testing.T) {
	args, err := ParseArguments(`"just a string"`)
	require.NoError(t, err)
	assert.Equal(t, "just a string", args.String("input"))

	args, err = ParseArguments(`[1, 2]`)
	require.NoError(t, err)
	assert.True(t, args.Has("input"))
}

func TestParseArguments_KeyValuePairs(t *testing.T) {
	args, err := ParseArguments("url: https://example.com, limit: 3")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", args.String("url"))
	assert.Equal(t, 3, args.Int("limit"))

	args, err = ParseArguments("canvas_id=c1\nforce=true")
	require.NoError(t, err)
	assert.Equal(t, "c1", args.String("canvas_id"))
	assert.True(t, args.Bool("force"))
}

func TestParseArguments_ScalarCoercion(t *testing.T) {
	args, err := ParseArguments("count: 7, ratio: 0.5, flag: false, gone: null")
	require.NoError(t, err)
	assert.Equal(t, int64(7), args["count"])
	assert.Equal(t, 0.5, args["ratio"])
	assert.Equal(t, false, args["flag"])
	assert.Nil(t, args["gone"])
}

func TestParseArguments_ProseFallsThroughToInput(t *testing.T) {
	// One unparseable part rejects key-value parsing for the whole input.
	args, err := ParseArguments("please summarize the canvas for me")
	require.NoError(t, err)
	assert.Equal(t, "please summarize the canvas for me", args.String("input"))
	assert.Len(t, args, 1)
}

func TestParseArguments_JSONWinsOverKeyValueLookalike(t *testing.T) {
	args, err := ParseArguments(`{"note": "remember: be kind"}`)
	require.NoError(t, err)
	assert.Equal(t, "remember: be kind", args.String("note"))
	assert.Len(t, args, 1)
}

func TestArgs_StringCoercions(t *testing.T) {
	args := Args{"n": float64(42), "ok": true, "s": "  padded  "}
	assert.Equal(t, "42", args.String("n"))
	assert.Equal(t, "true", args.String("ok"))
	assert.Equal(t, "padded", args.String("s"))
	assert.Equal(t, "", args.String("missing"))
	assert.Equal(t, "fallback", args.StringOr("missing", "fallback"))
}

func TestArgs_IntCoercions(t *testing.T) {
	args := Args{"f": float64(9), "s": "12", "bad": "nope"}
	assert.Equal(t, 9, args.Int("f"))
	assert.Equal(t, 12, args.Int("s"))
	assert.Equal(t, 0, args.Int("bad"))
	assert.Equal(t, 5, args.IntOr("missing", 5))
	assert.Equal(t, 5, args.IntOr("zero", 5))
	assert.Equal(t, 9, args.IntOr("f", 5))
}

func TestArgs_StringSlice(t *testing.T) {
	args := Args{
		"typed": []string{"a", "b"},
		"json":  []any{"x", 1, " y "},
		"bare":  "solo",
	}
	assert.Equal(t, []string{"a", "b"}, args.StringSlice("typed"))
	assert.Equal(t, []string{"x", "y"}, args.StringSlice("json"))
	assert.Equal(t, []string{"solo"}, args.StringSlice("bare"))
	assert.Nil(t, args.StringSlice("missing"))
}
