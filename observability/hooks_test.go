package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHooks_NilReceiverIsNoOpForAllSafeMethods(t *testing.T) {
	var h *Hooks
	assert.NotPanics(t, func() {
		h.SafeLog(context.Background(), "info", "msg", nil)
		h.SafeLLMRequest(context.Background(), "p", "m", nil)
		h.SafeLLMResponse(context.Background(), "p", "m", time.Millisecond, nil)
		h.SafeLLMRetry(context.Background(), "p", "m", 1, nil)
		h.SafeBreakerStateChange(context.Background(), "b", "closed", "open")
		h.SafeTaskStatusChange(context.Background(), "t1", "pending", "running")
	})
}

func TestHooks_UnsetCallbacksAreNoOp(t *testing.T) {
	h := &Hooks{}
	assert.NotPanics(t, func() {
		h.SafeLog(context.Background(), "info", "msg", nil)
		h.SafeLLMRequest(context.Background(), "p", "m", nil)
	})
}

func TestHooks_SafeLog_InvokesConfiguredLogf(t *testing.T) {
	var gotLevel, gotMsg string
	h := &Hooks{Logf: func(ctx context.Context, level, msg string, fields map[string]any) {
		gotLevel, gotMsg = level, msg
	}}
	h.SafeLog(context.Background(), "warn", "careful", map[string]any{"k": "v"})
	assert.Equal(t, "warn", gotLevel)
	assert.Equal(t, "careful", gotMsg)
}

func TestHooks_SafeLLMRequest_InvokesConfiguredCallback(t *testing.T) {
	var gotProvider, gotModel string
	h := &Hooks{OnLLMRequest: func(ctx context.Context, provider, model string, meta map[string]any) {
		gotProvider, gotModel = provider, model
	}}
	h.SafeLLMRequest(context.Background(), "anthropic", "claude-3", nil)
	assert.Equal(t, "anthropic", gotProvider)
	assert.Equal(t, "claude-3", gotModel)
}

func TestHooks_SafeLLMResponse_InvokesConfiguredCallback(t *testing.T) {
	var gotLatency time.Duration
	h := &Hooks{OnLLMResponse: func(ctx context.Context, provider, model string, latency time.Duration, meta map[string]any) {
		gotLatency = latency
	}}
	h.SafeLLMResponse(context.Background(), "openai", "gpt-4o", 42*time.Millisecond, nil)
	assert.Equal(t, 42*time.Millisecond, gotLatency)
}

func TestHooks_SafeBreakerStateChange_InvokesConfiguredCallback(t *testing.T) {
	var gotFrom, gotTo string
	h := &Hooks{OnBreakerStateChange: func(ctx context.Context, binding, from, to string) {
		gotFrom, gotTo = from, to
	}}
	h.SafeBreakerStateChange(context.Background(), "HTTP_PROVIDER", "closed", "open")
	assert.Equal(t, "closed", gotFrom)
	assert.Equal(t, "open", gotTo)
}

func TestHooks_SafeTaskStatusChange_InvokesConfiguredCallback(t *testing.T) {
	var gotTaskID string
	h := &Hooks{OnTaskStatusChange: func(ctx context.Context, taskID, from, to string) {
		gotTaskID = taskID
	}}
	h.SafeTaskStatusChange(context.Background(), "task-1", "pending", "running")
	assert.Equal(t, "task-1", gotTaskID)
}
