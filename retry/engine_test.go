package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/validate"
)

func fastRetryConfig(maxAttempts int) message.RetryConfig {
	return message.RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}
}

func TestEngineRun_SucceedsOnFirstAttempt(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(3)}
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		return &llm.Response{Content: "ok"}, nil
	}
	resp, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.Nil(t, gerr)
	assert.Equal(t, "ok", resp.Content)
}

func TestEngineRun_RetriesOnProviderUnavailableThenSucceeds(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(3)}
	calls := 0
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		calls++
		if calls < 2 {
			return nil, gatewayerr.New(gatewayerr.KindProviderUnavailable, "down")
		}
		return &llm.Response{Content: "ok"}, nil
	}
	resp, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.Nil(t, gerr)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, calls)
}

func TestEngineRun_ExhaustsAttemptsReturnsWrappedError(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(2)}
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		return nil, gatewayerr.New(gatewayerr.KindProviderUnavailable, "down")
	}
	_, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.NotNil(t, gerr)
	assert.Equal(t, gatewayerr.KindProviderUnavailable, gerr.Kind)
	assert.Len(t, gerr.Attempts, 2)
}

func TestEngineRun_AuthErrorShortCircuitsImmediately(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(5)}
	calls := 0
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		calls++
		return nil, gatewayerr.New(gatewayerr.KindAuth, "bad key")
	}
	_, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.NotNil(t, gerr)
	assert.Equal(t, gatewayerr.KindAuth, gerr.Kind)
	assert.Equal(t, 1, calls, "auth failures must not retry")
	assert.NotNil(t, gerr.Diagnostic)
}

func TestEngineRun_ValidatorFailureThenFeedbackThenSuccess(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(3)}
	calls := 0
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		calls++
		return &llm.Response{Content: "resp"}, nil
	}
	v := &countingValidator{failUntil: 1}
	resp, gerr := e.Run(context.Background(), "b", cfg, attemptFn, []validate.Validator{v})
	require.Nil(t, gerr)
	assert.Equal(t, "resp", resp.Content)
	assert.Equal(t, 2, calls)
}

func TestEngineRun_ValidatorFailureExhaustsAttempts(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(2)}
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		return &llm.Response{Content: "resp"}, nil
	}
	v := &countingValidator{failUntil: 100}
	_, gerr := e.Run(context.Background(), "b", cfg, attemptFn, []validate.Validator{v})
	require.NotNil(t, gerr)
	assert.Equal(t, gatewayerr.KindValidationFailed, gerr.Kind)
}

func TestEngineRun_HumanReviewThresholdEscalates(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	rc := fastRetryConfig(5)
	rc.MaxAttemptsBeforeHuman = 2
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: rc}
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		return nil, gatewayerr.New(gatewayerr.KindProviderUnavailable, "down")
	}
	_, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.NotNil(t, gerr)
	assert.Equal(t, gatewayerr.KindHumanReviewRequired, gerr.Kind)
}

func TestEngineRun_CircuitOpenShortCircuitsInvocation(t *testing.T) {
	breakers := NewBreakerRegistry(nil)
	breakerCfg := message.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, FailureWindow: time.Hour}
	breakers.Record("b", breakerCfg, time.Now(), gatewayerr.KindProviderUnavailable, false)

	e := NewEngine(breakers, nil, nil)
	rc := fastRetryConfig(3)
	rc.CircuitBreaker = &breakerCfg
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: rc}
	calls := 0
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		calls++
		return &llm.Response{Content: "ok"}, nil
	}
	_, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.NotNil(t, gerr)
	assert.Equal(t, gatewayerr.KindCircuitOpen, gerr.Kind)
	assert.Equal(t, 0, calls)
}

func TestEngineRun_CancelledContextBeforeAttemptReturnsCancelled(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: fastRetryConfig(3)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		t.Fatal("attemptFn must not be called once the context is already cancelled")
		return nil, nil
	}
	_, gerr := e.Run(ctx, "b", cfg, attemptFn, nil)
	require.NotNil(t, gerr)
	assert.Equal(t, gatewayerr.KindCancelled, gerr.Kind)
}

func TestEngineRun_ToolStageAppendsToolMessage(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	rc := fastRetryConfig(3)
	rc.MaxAttemptsBeforeTool = 2
	rc.DebugToolName = "inspector"
	cfg := message.CallConfig{Model: "gpt-4o", RetryConfig: rc, Messages: []message.Message{{Role: message.RoleUser, Content: "hi"}}}
	var lastMessages []message.Message
	calls := 0
	attemptFn := func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error) {
		calls++
		lastMessages = cfg.Messages
		if calls < 2 {
			return nil, gatewayerr.New(gatewayerr.KindProviderUnavailable, "down")
		}
		return &llm.Response{Content: "ok"}, nil
	}
	_, gerr := e.Run(context.Background(), "b", cfg, attemptFn, nil)
	require.Nil(t, gerr)
	assert.Contains(t, lastMessages[len(lastMessages)-1].Content, "inspector")
}

type countingValidator struct {
	calls     int
	failUntil int
}

func (c *countingValidator) Name() string { return "counting" }
func (c *countingValidator) Validate(ctx context.Context, resp *llm.Response, vctx validate.Context) (validate.ValidationResult, error) {
	c.calls++
	if c.calls <= c.failUntil {
		return validate.ValidationResult{Valid: false, Reasoning: "not yet"}, nil
	}
	return validate.ValidationResult{Valid: true}, nil
}
