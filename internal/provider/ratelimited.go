package provider

import (
	"context"
	"strings"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/ratelimit"
)

type rateLimitedProvider struct {
	channel domain.Channel
	next    Provider
	limiter ratelimit.RateLimiter
}

// WithRateLimit waits for the channel's rate limiter before every send. A
// failed wait is reported as a failed send.
func WithRateLimit(channel domain.Channel, next Provider, limiter ratelimit.RateLimiter) Provider {
	if limiter == nil {
		return next
	}
	return &rateLimitedProvider{channel: channel, next: next, limiter: limiter}
}

func (p *rateLimitedProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if err := p.limiter.Wait(ctx, strings.ToLower(p.channel.String())); err != nil {
		return nil, &ProviderError{
			Channel: p.channel.String(),
			Message: "rate limiter wait failed",
			Cause:   err,
		}
	}
	return p.next.Send(ctx, msg)
}
