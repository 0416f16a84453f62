package rail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopAction(_ context.Context, _ *TurnContext) (Delta, error) { return nil, nil }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", noopAction))

	assert.Error(t, r.Register("a", noopAction), "duplicate names are rejected")
	assert.Error(t, r.Register("", noopAction))
	assert.Error(t, r.Register("b", nil))

	_, ok := r.Get("a")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryVerify(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", noopAction))

	assert.NoError(t, r.Verify([]string{"a"}))
	assert.NoError(t, r.Verify(nil))

	err := r.Verify([]string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "c")
}

func TestTurnContextVariables(t *testing.T) {
	turn := NewTurnContext("hello")

	assert.NotEmpty(t, turn.TurnID)
	assert.Equal(t, "hello", turn.UserMessage())

	_, ok := turn.Response()
	assert.False(t, ok)

	turn.SetResponse("hi there")
	response, ok := turn.Response()
	assert.True(t, ok)
	assert.Equal(t, "hi there", response)

	turn.Set("$custom", "value")
	v, ok := turn.Get("$custom")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}
