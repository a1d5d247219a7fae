package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DisabledWithoutKeys(t *testing.T) {
	r := NewRegistry()
	enabled := r.ListEnabled()
	assert.Empty(t, enabled, "no keys configured: every provider should be disabled")
}

func TestRegistry_ReloadKeysRecognizesBothSpellings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY_1", "key-a")
	t.Setenv("ANTHROPICAPI_KEY", "") // malformed prefix, must not match anthropic
	t.Setenv("ANTHROPIC_API_KEY1", "key-b")

	r := NewRegistry()

	openai, err := r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, []string{"key-a"}, openai.Keys)
	assert.True(t, openai.Enabled())

	anthropic, err := r.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, []string{"key-b"}, anthropic.Keys)
}

func TestRegistry_GetUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("not-a-real-provider")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_EmptyKeyIgnored(t *testing.T) {
	t.Setenv("GROQ_API_KEY_1", "")
	r := NewRegistry()
	groq, err := r.Get("groq")
	require.NoError(t, err)
	assert.False(t, groq.Enabled())
}
