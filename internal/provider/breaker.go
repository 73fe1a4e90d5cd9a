package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerTimeout   = 30 * time.Second
)

// ErrCircuitOpen is returned, wrapped in a ProviderError, when the breaker
// rejects a call without invoking the provider.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerSettings configures the per-channel circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	OnStateChange    func(channel domain.Channel, from, to string)
}

// breakerProvider stops calling a provider after consecutive failures until
// the open timeout elapses. Calls rejected while open fail with ErrCircuitOpen.
type breakerProvider struct {
	channel domain.Channel
	next    Provider
	cb      *gobreaker.CircuitBreaker
}

func WithBreaker(channel domain.Channel, next Provider, settings BreakerSettings) Provider {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = defaultBreakerThreshold
	}
	timeout := settings.OpenTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}

	st := gobreaker.Settings{
		Name:    channel.String(),
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	if settings.OnStateChange != nil {
		st.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			settings.OnStateChange(channel, from.String(), to.String())
		}
	}

	return &breakerProvider{
		channel: channel,
		next:    next,
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

func (b *breakerProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		res, err := b.next.Send(ctx, msg)
		if err != nil {
			return nil, err
		}
		if reason := FailureReason(res, nil); reason != "" {
			return nil, &ProviderError{Channel: b.channel.String(), Message: reason}
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ProviderError{
				Channel: b.channel.String(),
				Cause:   fmt.Errorf("%w: %w", ErrCircuitOpen, err),
			}
		}
		return nil, err
	}

	res, _ := out.(*Result)
	return res, nil
}
