package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ Args) (map[string]any, error) {
	return OK(nil), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Tool{Name: "ping", Description: "ping", Handler: noopHandler}))

	tool, ok := r.Get("ping")
	require.True(t, ok)
	assert.Equal(t, "ping", tool.Name)

	_, ok = r.Get("pong")
	assert.False(t, ok)
}

func TestRegistry_RejectsBadRegistrations(t *testing.T) {
	r := NewRegistry(nil)
	assert.Error(t, r.Register(Tool{Name: "", Handler: noopHandler}))
	assert.Error(t, r.Register(Tool{Name: "no-handler"}))

	require.NoError(t, r.Register(Tool{Name: "dup", Handler: noopHandler}))
	assert.Error(t, r.Register(Tool{Name: "dup", Handler: noopHandler}))
}

func TestRegistry_InvalidSchemaFailsAtRegistration(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register(Tool{Name: "broken", Schema: `{"type": `, Handler: noopHandler})
	assert.Error(t, err)
}

func TestRegistry_ValidateAgainstSchema(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Tool{
		Name: "fetch",
		Schema: `{
			"type": "object",
			"properties": {
				"url": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1}
			},
			"required": ["url"]
		}`,
		Handler: noopHandler,
	}))

	assert.NoError(t, r.Validate("fetch", Args{"url": "https://example.com"}))
	assert.Error(t, r.Validate("fetch", Args{}), "missing required url")
	assert.Error(t, r.Validate("fetch", Args{"url": "x", "limit": float64(0)}), "limit below minimum")
	assert.ErrorIs(t, r.Validate("nope", Args{}), ErrUnknownTool)
}

func TestRegistry_SchemalessToolAcceptsAnything(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Tool{Name: "free", Handler: noopHandler}))
	assert.NoError(t, r.Validate("free", Args{"whatever": 1}))
}

func TestRegistry_DefinitionsPreserveRequestedOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(Tool{Name: name, Description: name, Handler: noopHandler}))
	}

	defs := r.Definitions("b", "missing", "a")
	require.Len(t, defs, 2, "unknown names are skipped")
	assert.Equal(t, "b", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)

	all := r.Definitions()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Name, all[1].Name, all[2].Name})
}
