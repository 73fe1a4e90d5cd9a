package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/courier-notify/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix       = "courier:ratelimit:"
	defaultLimitPerSec int64 = 50
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 100 * time.Millisecond
	windowSeconds            = 2
)

// allowScript counts calls in a one-second bucket. The key outlives its
// bucket so a late INCR never resets an expired window.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window per-channel limiter shared by every
// process talking to the same Redis.
type RedisRateLimiter struct {
	client       *goredis.Client
	defaultLimit int64
	limits       map[string]int64
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewRedisRateLimiter limits every channel to limitPerSec calls per second.
// Entries in perChannel override the default for a lower-cased channel name.
func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, perChannel map[string]int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), perChannel, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	perChannel map[string]int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	limits := make(map[string]int64, len(perChannel))
	for name, limit := range perChannel {
		if limit > 0 {
			limits[strings.ToLower(strings.TrimSpace(name))] = int64(limit)
		}
	}

	return &RedisRateLimiter{
		client:       client,
		defaultLimit: limitPerSec,
		limits:       limits,
		now:          nowFn,
		sleep:        sleepFn,
	}, nil
}

func (r *RedisRateLimiter) limitFor(channel string) int64 {
	if limit, ok := r.limits[channel]; ok {
		return limit
	}
	return r.defaultLimit
}

func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	name := strings.ToLower(strings.TrimSpace(channel))
	if name == "" {
		return false, fmt.Errorf("channel is required")
	}

	key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, name, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{key}, r.limitFor(name), windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the channel has capacity or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff*2, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
