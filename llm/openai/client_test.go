package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	base "github.com/relaygate/core/llm"
)

func TestNewClient_AppliesConfigDefaults(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.cfg.Model)
	assert.Equal(t, 0.7, c.cfg.Temperature)
	assert.Equal(t, base.DefaultRetryConfig(), c.cfg.Retry)
}

func TestNewClient_PreservesExplicitConfig(t *testing.T) {
	c, err := NewClient(Config{Model: "gpt-4o-mini", Temperature: 0.1, MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.cfg.Model)
	assert.Equal(t, 0.1, c.cfg.Temperature)
	assert.Equal(t, 256, c.cfg.MaxTokens)
}

func TestClient_Model_ReturnsConfiguredModel(t *testing.T) {
	c, err := NewClient(Config{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.Model())
}

func TestPickModel_PrefersRequestModelOverFallback(t *testing.T) {
	assert.Equal(t, "req-model", pickModel(&base.ChatRequest{Model: "req-model"}, "fallback"))
}

func TestPickModel_FallsBackWhenRequestModelEmpty(t *testing.T) {
	assert.Equal(t, "fallback", pickModel(&base.ChatRequest{}, "fallback"))
	assert.Equal(t, "fallback", pickModel(nil, "fallback"))
}
