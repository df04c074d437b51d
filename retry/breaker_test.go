package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/message"
)

func testBreakerCfg() message.CircuitBreakerConfig {
	return message.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond, FailureWindow: time.Minute}
}

func TestBreakerRegistry_AllowsWhenClosed(t *testing.T) {
	r := NewBreakerRegistry(nil)
	assert.True(t, r.Allow("b", testBreakerCfg(), time.Now()))
}

func TestBreakerRegistry_OpensAfterThresholdFailures(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	}
	assert.Equal(t, StateOpen, r.State("b"))
	assert.False(t, r.Allow("b", cfg, now))
}

func TestBreakerRegistry_ExcludedKindNeverOpensBreaker(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 10; i++ {
		r.Record("b", cfg, now, gatewayerr.KindBadRequest, false)
	}
	assert.Equal(t, StateClosed, r.State("b"))
}

func TestBreakerRegistry_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	}
	assert.Equal(t, StateOpen, r.State("b"))

	later := now.Add(cfg.RecoveryTimeout + time.Millisecond)
	assert.True(t, r.Allow("b", cfg, later))
	assert.Equal(t, StateHalfOpen, r.State("b"))
}

func TestBreakerRegistry_HalfOpenOnlyAllowsOneProbeAtATime(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	}
	later := now.Add(cfg.RecoveryTimeout + time.Millisecond)
	assert.True(t, r.Allow("b", cfg, later))
	assert.False(t, r.Allow("b", cfg, later), "a second probe must not be allowed while the first is in flight")
}

func TestBreakerRegistry_SuccessfulProbeClosesBreaker(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	}
	later := now.Add(cfg.RecoveryTimeout + time.Millisecond)
	r.Allow("b", cfg, later)
	r.Record("b", cfg, later, "", true)
	assert.Equal(t, StateClosed, r.State("b"))
}

func TestBreakerRegistry_FailedProbeReopensBreaker(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	}
	later := now.Add(cfg.RecoveryTimeout + time.Millisecond)
	r.Allow("b", cfg, later)
	r.Record("b", cfg, later, gatewayerr.KindProviderUnavailable, false)
	assert.Equal(t, StateOpen, r.State("b"))
}

func TestBreakerRegistry_FailuresOutsideWindowAreDropped(t *testing.T) {
	r := NewBreakerRegistry(nil)
	cfg := testBreakerCfg()
	cfg.FailureWindow = 10 * time.Millisecond
	now := time.Now()
	r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	later := now.Add(20 * time.Millisecond)
	r.Record("b", cfg, later, gatewayerr.KindProviderUnavailable, false)
	assert.Equal(t, StateClosed, r.State("b"), "the first two failures should have fallen out of the window")
}

func TestBreakerRegistry_NotifiesOnChangeOnTransition(t *testing.T) {
	var fromSeen, toSeen BreakerState
	calls := 0
	r := NewBreakerRegistry(func(binding string, from, to BreakerState) {
		calls++
		fromSeen, toSeen = from, to
	})
	cfg := testBreakerCfg()
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.Record("b", cfg, now, gatewayerr.KindProviderUnavailable, false)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, fromSeen)
	assert.Equal(t, StateOpen, toSeen)
}

func TestBreakerRegistry_StateDefaultsClosedForUnknownBinding(t *testing.T) {
	r := NewBreakerRegistry(nil)
	assert.Equal(t, StateClosed, r.State("never-seen"))
}
