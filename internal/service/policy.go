package service

import (
	"context"

	"github.com/kursadbilgin/courier-notify/internal/domain"
)

// PolicySource hands out retry policy snapshots.
type PolicySource interface {
	Snapshot(ctx context.Context) (domain.RetryPolicy, error)
}

// PolicyStore is a PolicySource that operators can update at runtime.
type PolicyStore interface {
	PolicySource
	Update(ctx context.Context, policy domain.RetryPolicy) error
}

// StaticPolicySource always returns the same policy.
type StaticPolicySource struct {
	Policy domain.RetryPolicy
}

func (s StaticPolicySource) Snapshot(ctx context.Context) (domain.RetryPolicy, error) {
	return s.Policy.Clone(), nil
}
