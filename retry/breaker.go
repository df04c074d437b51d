// Circuit breaker state machine. The teacher has no breaker; this is new
// code grounded on the state-machine style of engine/context.go's polling
// state fields (CLOSED/OPEN/HALF_OPEN transitions driven by explicit state
// plus timestamps, not goroutine-per-timer).
package retry

import (
	"sync"
	"time"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/message"
)

// BreakerState is one of the three circuit breaker states (spec.md §4.4).
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

var defaultExcludedKinds = map[gatewayerr.Kind]struct{}{
	gatewayerr.KindBadRequest:          {},
	gatewayerr.KindAuth:                {},
	gatewayerr.KindValidationFailed:    {},
	gatewayerr.KindHumanReviewRequired: {},
}

// Breaker is a single provider-binding's circuit breaker. Instances are
// owned by a BreakerRegistry and accessed under its lock, matching
// spec.md §6's "accesses are serialized via a mutex."
type Breaker struct {
	cfg             message.CircuitBreakerConfig
	excluded        map[gatewayerr.Kind]struct{}
	state           BreakerState
	failures        []time.Time
	lastFailureTime time.Time
	probeInFlight   bool
}

func newBreaker(cfg message.CircuitBreakerConfig) *Breaker {
	excluded := defaultExcludedKinds
	if len(cfg.ExcludedErrorKinds) > 0 {
		excluded = make(map[gatewayerr.Kind]struct{}, len(cfg.ExcludedErrorKinds))
		for _, k := range cfg.ExcludedErrorKinds {
			excluded[gatewayerr.Kind(k)] = struct{}{}
		}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	return &Breaker{cfg: cfg, excluded: excluded, state: StateClosed}
}

// allow reports whether an invoke may proceed, transitioning OPEN ->
// HALF_OPEN when the recovery timeout has elapsed. Must be called with the
// registry lock held.
func (b *Breaker) allow(now time.Time) bool {
	switch b.state {
	case StateOpen:
		if now.Sub(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.probeInFlight = false
			return b.allow(now)
		}
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// record applies the outcome of an invoke. Must be called with the
// registry lock held.
func (b *Breaker) record(now time.Time, kind gatewayerr.Kind, success bool) {
	if b.state == StateHalfOpen {
		b.probeInFlight = false
		if success {
			b.state = StateClosed
			b.failures = nil
		} else {
			b.state = StateOpen
			b.lastFailureTime = now
		}
		return
	}

	if success {
		return
	}
	if _, excluded := b.excluded[kind]; excluded {
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
	b.lastFailureTime = now

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// BreakerRegistry holds one Breaker per provider binding, created lazily.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	onChange func(binding string, from, to BreakerState)
}

// NewBreakerRegistry returns an empty registry. onChange, if non-nil, is
// invoked whenever a breaker's state transitions (used to drive
// observability.Hooks.OnBreakerStateChange).
func NewBreakerRegistry(onChange func(binding string, from, to BreakerState)) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*Breaker), onChange: onChange}
}

// Allow consults (and lazily creates) the breaker for binding, returning
// whether an invoke may proceed now.
func (r *BreakerRegistry) Allow(binding string, cfg message.CircuitBreakerConfig, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.breakerFor(binding, cfg)
	before := b.state
	ok := b.allow(now)
	r.notify(binding, before, b.state)
	return ok
}

// Record applies an invoke outcome to binding's breaker.
func (r *BreakerRegistry) Record(binding string, cfg message.CircuitBreakerConfig, now time.Time, kind gatewayerr.Kind, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.breakerFor(binding, cfg)
	before := b.state
	b.record(now, kind, success)
	r.notify(binding, before, b.state)
}

// State reports the current state for binding without mutating it.
func (r *BreakerRegistry) State(binding string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[binding]
	if !ok {
		return StateClosed
	}
	return b.state
}

func (r *BreakerRegistry) breakerFor(binding string, cfg message.CircuitBreakerConfig) *Breaker {
	b, ok := r.breakers[binding]
	if !ok {
		b = newBreaker(cfg)
		r.breakers[binding] = b
	}
	return b
}

func (r *BreakerRegistry) notify(binding string, from, to BreakerState) {
	if from != to && r.onChange != nil {
		r.onChange(binding, from, to)
	}
}
