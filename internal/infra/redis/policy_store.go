package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	policyKey            = "courier:policy"
	fieldMaxAttempts     = "max_attempts"
	fieldCooldownMinutes = "cooldown_minutes"
	channelFieldPrefix   = "channel:"
)

// PolicyStore keeps the live retry policy in a Redis hash so every process
// reads the same configuration. Fields missing from the hash fall back to
// the defaults given at construction.
type PolicyStore struct {
	client   *goredis.Client
	defaults domain.RetryPolicy
}

func NewPolicyStore(client *goredis.Client, defaults domain.RetryPolicy) (*PolicyStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default policy: %w", err)
	}
	return &PolicyStore{client: client, defaults: defaults.Clone()}, nil
}

// Snapshot returns an independent copy of the current policy.
func (s *PolicyStore) Snapshot(ctx context.Context) (domain.RetryPolicy, error) {
	fields, err := s.client.HGetAll(ctx, policyKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return domain.RetryPolicy{}, fmt.Errorf("%w: read policy: %w", domain.ErrStore, err)
	}

	policy := s.defaults.Clone()
	for field, raw := range fields {
		switch {
		case field == fieldMaxAttempts:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return domain.RetryPolicy{}, fmt.Errorf("%w: policy field %s=%q: %w", domain.ErrStore, field, raw, err)
			}
			policy.MaxAttempts = v
		case field == fieldCooldownMinutes:
			v, err := strconv.Atoi(raw)
			if err != nil {
				return domain.RetryPolicy{}, fmt.Errorf("%w: policy field %s=%q: %w", domain.ErrStore, field, raw, err)
			}
			policy.CooldownMinutes = v
		case strings.HasPrefix(field, channelFieldPrefix):
			ch, err := domain.ParseChannelFromString(strings.TrimPrefix(field, channelFieldPrefix))
			if err != nil {
				continue
			}
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				return domain.RetryPolicy{}, fmt.Errorf("%w: policy field %s=%q: %w", domain.ErrStore, field, raw, err)
			}
			policy.ChannelEnabled[ch] = enabled
		}
	}

	if err := policy.Validate(); err != nil {
		return domain.RetryPolicy{}, fmt.Errorf("%w: stored policy: %w", domain.ErrStore, err)
	}
	return policy, nil
}

// Update replaces the stored policy atomically.
func (s *PolicyStore) Update(ctx context.Context, policy domain.RetryPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	values := map[string]any{
		fieldMaxAttempts:     policy.MaxAttempts,
		fieldCooldownMinutes: policy.CooldownMinutes,
	}
	for _, ch := range domain.Channels {
		values[channelFieldPrefix+ch.String()] = strconv.FormatBool(policy.IsChannelEnabled(ch))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, policyKey)
		pipe.HSet(ctx, policyKey, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write policy: %w", domain.ErrStore, err)
	}
	return nil
}
