package cliproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/message"
)

func TestClient_Complete_HappyPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-code", req.Submodel)
		sendJSON(w, http.StatusOK, chatCompletionResponse{Content: "hi", Provider: "cli", Model: req.Submodel, FinishReason: "stop"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	resp, err := c.Complete(context.Background(), "claude-code", message.CallConfig{Messages: []message.Message{{Role: message.RoleUser, Content: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
}

func TestClient_Complete_ErrorStatusIsClassified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusTooManyRequests, gatewayerr.KindRateLimit, "slow down")
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	_, err := c.Complete(context.Background(), "claude-code", message.CallConfig{})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindRateLimit, gerr.Kind)
}

func TestClient_Complete_UnreachableServerIsProviderUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Complete(context.Background(), "claude-code", message.CallConfig{})
	gerr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.KindProviderUnavailable, gerr.Kind)
}

func TestNewClient_DefaultsBaseURL(t *testing.T) {
	c := NewClient("")
	assert.Equal(t, DefaultBaseURL, c.BaseURL)
}
