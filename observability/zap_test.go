package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedHooks(t *testing.T) (*Hooks, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	return NewZapHooks(logger), logs
}

func TestNewZapHooks_LogfRoutesToExpectedLevel(t *testing.T) {
	h, logs := newObservedHooks(t)
	h.SafeLog(context.Background(), "warn", "something happened", map[string]any{"key": "value"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "something happened", entry.Message)
}

func TestNewZapHooks_DefaultsToInfoForUnknownLevel(t *testing.T) {
	h, logs := newObservedHooks(t)
	h.SafeLog(context.Background(), "trace", "msg", nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zap.InfoLevel, logs.All()[0].Level)
}

func TestNewZapHooks_OnLLMRetryLogsAttemptAndError(t *testing.T) {
	h, logs := newObservedHooks(t)
	h.SafeLLMRetry(context.Background(), "openai", "gpt-4o", 2, assert.AnError)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "llm retry", logs.All()[0].Message)
}

func TestNewZapHooks_OnLLMResponseRecordsLatency(t *testing.T) {
	h, logs := newObservedHooks(t)
	h.SafeLLMResponse(context.Background(), "openai", "gpt-4o", 250*time.Millisecond, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "llm response", logs.All()[0].Message)
}

func TestNewZapHooks_NilLoggerFallsBackToProductionLogger(t *testing.T) {
	h := NewZapHooks(nil)
	assert.NotPanics(t, func() { h.SafeLog(context.Background(), "info", "ok", nil) })
}
