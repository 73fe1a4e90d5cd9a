package domain

import (
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts     = 3
	DefaultCooldownMinutes = 30
)

// RetryPolicy is a read-only snapshot of channel toggles and retry knobs.
// Callers pass it by value; Clone detaches the channel map from its source.
type RetryPolicy struct {
	ChannelEnabled  map[Channel]bool
	MaxAttempts     int
	CooldownMinutes int
}

// DefaultRetryPolicy enables every channel with the default retry knobs.
func DefaultRetryPolicy() RetryPolicy {
	enabled := make(map[Channel]bool, len(Channels))
	for _, ch := range Channels {
		enabled[ch] = true
	}
	return RetryPolicy{
		ChannelEnabled:  enabled,
		MaxAttempts:     DefaultMaxAttempts,
		CooldownMinutes: DefaultCooldownMinutes,
	}
}

// IsChannelEnabled reports whether c may be used. Unknown channels are disabled.
func (p RetryPolicy) IsChannelEnabled(c Channel) bool {
	return p.ChannelEnabled[c]
}

func (p RetryPolicy) Cooldown() time.Duration {
	return time.Duration(p.CooldownMinutes) * time.Minute
}

func (p RetryPolicy) Clone() RetryPolicy {
	enabled := make(map[Channel]bool, len(p.ChannelEnabled))
	for ch, on := range p.ChannelEnabled {
		enabled[ch] = on
	}
	p.ChannelEnabled = enabled
	return p
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrValidation)
	}
	if p.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown minutes must not be negative", ErrValidation)
	}
	for ch := range p.ChannelEnabled {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	return nil
}
