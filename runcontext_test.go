package flowline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunContext_MergeOverwritesAndPersists(t *testing.T) {
	base := RunContext{"a": 1, "b": "old"}
	update := RunContext{"b": "new", "c": true}

	merged := base.Merge(update)

	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, "new", merged["b"])
	assert.Equal(t, true, merged["c"])

	// Neither input is mutated.
	assert.Equal(t, "old", base["b"])
	assert.NotContains(t, base, "c")
	assert.NotContains(t, update, "a")
}

func TestRunContext_MergeNil(t *testing.T) {
	base := RunContext{"a": 1}

	merged := base.Merge(nil)
	assert.Equal(t, RunContext{"a": 1}, merged)
}

func TestRunContext_SetDoesNotMutateOriginal(t *testing.T) {
	base := RunContext{"a": 1}

	updated := base.Set("b", 2)

	assert.NotContains(t, base, "b")
	assert.Equal(t, 2, updated["b"])
}

func TestRunContext_RoundTrip(t *testing.T) {
	rc := RunContext{
		"webhook": map[string]any{"method": "POST"},
		"count":   float64(3),
	}

	raw, err := rc.MarshalRaw()
	require.NoError(t, err)

	decoded, err := UnmarshalRunContext(raw)
	require.NoError(t, err)

	assert.Equal(t, float64(3), decoded["count"])
	webhook, ok := decoded["webhook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "POST", webhook["method"])
}

func TestUnmarshalRunContext_Empty(t *testing.T) {
	rc, err := UnmarshalRunContext(nil)
	require.NoError(t, err)
	assert.NotNil(t, rc)
	assert.Empty(t, rc)
}

func TestRunContext_GetString(t *testing.T) {
	rc := RunContext{"s": "value", "n": 42}

	s, ok := rc.GetString("s")
	assert.True(t, ok)
	assert.Equal(t, "value", s)

	_, ok = rc.GetString("n")
	assert.False(t, ok)

	_, ok = rc.GetString("missing")
	assert.False(t, ok)
}
