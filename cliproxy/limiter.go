package cliproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter gates concurrent/rate-limited access to the CLI subprocess by an
// arbitrary key (typically the CLI submodel). Implementations never block
// indefinitely; Allow returns false rather than waiting when exhausted.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter is an in-process token-bucket limiter, one bucket per key,
// backing a single cliproxy instance (spec.md §4.5 "optional rate-limit
// semaphore").
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewLocalLimiter returns a LocalLimiter allowing rps requests/sec per key
// with the given burst.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// RedisLimiter implements a cross-process fixed-window limiter over a
// shared Redis instance: INCR the per-key-per-window counter, set its
// expiry on first increment. Grounded on the teacher's deleted
// adapters/redis package, which used the same INCR-then-EXPIRE idiom for
// its event-append script; reused here for rate limiting instead of event
// logging.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter returns a RedisLimiter allowing limit requests per window
// per key.
func NewRedisLimiter(client *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "cliproxy:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("redis limiter expire: %w", err)
		}
	}
	return count <= l.limit, nil
}
