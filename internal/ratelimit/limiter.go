package ratelimit

import "context"

// RateLimiter throttles provider calls per channel. Channel names are lower case.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
