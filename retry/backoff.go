package retry

import (
	"math/rand"
	"time"

	"github.com/relaygate/core/message"
)

// computeDelay implements spec.md §4.4's backoff formula: delay_i =
// min(max_delay, initial_delay * backoff_factor^(i-1)), optionally jittered
// by a uniform factor in [1-jitter_fraction, 1+jitter_fraction]. Grounded
// on llm/retry.go's Retrier.Do loop, generalized from a flat retry to the
// staged engine's per-attempt delay.
func computeDelay(cfg message.RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	d := float64(initial)
	for i := 1; i < attempt; i++ {
		d *= factor
		if d > float64(maxDelay) {
			d = float64(maxDelay)
			break
		}
	}

	delay := time.Duration(d)
	if delay > maxDelay {
		delay = maxDelay
	}

	if cfg.UseJitter {
		frac := cfg.JitterFraction
		if frac <= 0 {
			frac = 0.1
		}
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		lo := 1 - frac
		span := 2 * frac
		delay = time.Duration(float64(delay) * (lo + rng.Float64()*span))
	}
	return delay
}

// sleep blocks for d or until cancel is closed, returning true when the full
// delay elapsed and false when cancel fired first, so callers can respect
// cancellation during backoff (spec.md §5 "Suspension points").
func sleep(d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-cancel:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cancel:
		return false
	}
}
