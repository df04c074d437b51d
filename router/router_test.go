package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/message"
)

func TestRoute_RejectsEmptyModel(t *testing.T) {
	_, err := Route(message.CallConfig{})
	assert.Error(t, err)
}

func TestRoute_CLIPrefixSelectsCLIProxy(t *testing.T) {
	res, err := Route(message.CallConfig{Model: "cli/claude-code"})
	require.NoError(t, err)
	assert.Equal(t, BindingCLIProxy, res.Binding)
	assert.Equal(t, "claude-code", res.Submodel)
}

func TestRoute_CLIPrefixCaseInsensitive(t *testing.T) {
	res, err := Route(message.CallConfig{Model: "CLI/claude-code"})
	require.NoError(t, err)
	assert.Equal(t, BindingCLIProxy, res.Binding)
}

func TestRoute_BareCLIPrefixDefaultsSubmodel(t *testing.T) {
	res, err := Route(message.CallConfig{Model: "cli/"})
	require.NoError(t, err)
	assert.Equal(t, defaultCLISubmodel, res.Submodel)
}

func TestRoute_NonCLIModelSelectsHTTPProvider(t *testing.T) {
	res, err := Route(message.CallConfig{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, BindingHTTPProvider, res.Binding)
	assert.Empty(t, res.Submodel)
}

func TestRoute_HTTPProviderStripsReservedAndInternalKeys(t *testing.T) {
	cfg := message.CallConfig{
		Model: "gpt-4o",
		Params: map[string]any{
			"temperature":         0.5,
			"validation":          "x",
			"_internal_secret":    "y",
			"top_p":               0.9,
		},
	}
	res, err := Route(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Params["temperature"])
	assert.Equal(t, 0.9, res.Params["top_p"])
	_, hasValidation := res.Params["validation"]
	assert.False(t, hasValidation)
	_, hasInternal := res.Params["_internal_secret"]
	assert.False(t, hasInternal)
}

func TestRoute_CLIProxyOnlyForwardsAllowlistedParams(t *testing.T) {
	cfg := message.CallConfig{
		Model: "cli/claude",
		Params: map[string]any{
			"temperature": 0.5,
			"top_p":       0.9,
			"stream":      true,
		},
	}
	res, err := Route(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Params["temperature"])
	assert.Equal(t, true, res.Params["stream"])
	_, hasTopP := res.Params["top_p"]
	assert.False(t, hasTopP)
}

func TestRoute_NilParamsStaysNil(t *testing.T) {
	res, err := Route(message.CallConfig{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Nil(t, res.Params)
}
