package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/courier-notify/internal/domain"
)

var _ NotificationRepository = (*MemoryNotificationRepo)(nil)

// MemoryNotificationRepo is an in-process NotificationRepository with the
// same conditional-write semantics as the gorm implementation. It is a test
// double for the service tests; cmd/ always wires gorm.
type MemoryNotificationRepo struct {
	mu      sync.Mutex
	records map[string]domain.Notification
}

func NewMemoryNotificationRepo() *MemoryNotificationRepo {
	return &MemoryNotificationRepo{records: make(map[string]domain.Notification)}
}

func (r *MemoryNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[n.ID]; exists {
		return fmt.Errorf("%w: notification %s already exists", domain.ErrConflict, n.ID)
	}
	r.records[n.ID] = cloneNotification(*n)
	return nil
}

func (r *MemoryNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneNotification(n)
	return &out, nil
}

func (r *MemoryNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	r.mu.Lock()
	matched := make([]domain.Notification, 0, len(r.records))
	for _, n := range r.records {
		if params.Status != nil && n.Status != *params.Status {
			continue
		}
		if params.Channel != nil && n.Channel != *params.Channel {
			continue
		}
		if params.Kind != nil && n.Kind != *params.Kind {
			continue
		}
		matched = append(matched, cloneNotification(n))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page, pageSize := normalizePage(params.Page, params.PageSize)
	start := min((page-1)*pageSize, len(matched))
	end := min(start+pageSize, len(matched))
	return matched[start:end], int64(len(matched)), nil
}

func (r *MemoryNotificationRepo) ListEligible(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	eligible := make([]domain.Notification, 0)
	for _, n := range r.records {
		if n.IsEligible(now, cooldown) {
			eligible = append(eligible, cloneNotification(n))
		}
	}
	r.mu.Unlock()

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].UpdatedAt.Equal(eligible[j].UpdatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].UpdatedAt.Before(eligible[j].UpdatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (r *MemoryNotificationRepo) Claim(ctx context.Context, id string, expectedAttempts int, token string, now, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok || n.Status != domain.StatusPending || n.Attempts != expectedAttempts || n.ClaimActive(now) {
		return fmt.Errorf("%w: notification %s could not be claimed", domain.ErrConflict, id)
	}

	n.ClaimToken = &token
	n.ClaimedUntil = &until
	r.records[id] = n
	return nil
}

func (r *MemoryNotificationRepo) SaveOutcome(ctx context.Context, n *domain.Notification, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[n.ID]
	if !ok || current.Status != domain.StatusPending || current.ClaimToken == nil || *current.ClaimToken != token {
		return fmt.Errorf("%w: claim on notification %s was lost", domain.ErrConflict, n.ID)
	}

	current.Status = n.Status
	current.Attempts = n.Attempts
	current.LastError = n.LastError
	current.ProviderReceipt = n.ProviderReceipt
	current.SentAt = n.SentAt
	current.UpdatedAt = n.UpdatedAt
	current.ClaimToken = nil
	current.ClaimedUntil = nil
	r.records[n.ID] = cloneNotification(current)

	n.ClaimToken = nil
	n.ClaimedUntil = nil
	return nil
}

func (r *MemoryNotificationRepo) Release(ctx context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok || n.ClaimToken == nil || *n.ClaimToken != token {
		return nil
	}
	n.ClaimToken = nil
	n.ClaimedUntil = nil
	r.records[id] = n
	return nil
}

func (r *MemoryNotificationRepo) Cancel(ctx context.Context, id, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok || n.Status != domain.StatusPending || n.ClaimActive(now) {
		return fmt.Errorf("%w: notification %s changed or is being dispatched", domain.ErrConflict, id)
	}

	n.Status = domain.StatusCancelled
	n.LastError = &reason
	n.UpdatedAt = now
	n.ClaimToken = nil
	n.ClaimedUntil = nil
	r.records[id] = n
	return nil
}

func (r *MemoryNotificationRepo) CountByStatus(ctx context.Context, filter StatsFilter) (map[domain.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.Status]int64, len(domain.Statuses))
	for _, st := range domain.Statuses {
		counts[st] = 0
	}
	for _, n := range r.records {
		if filter.Channel != nil && n.Channel != *filter.Channel {
			continue
		}
		if filter.Kind != nil && n.Kind != *filter.Kind {
			continue
		}
		counts[n.Status]++
	}
	return counts, nil
}

func cloneNotification(n domain.Notification) domain.Notification {
	n.Subject = clonePtr(n.Subject)
	n.LastError = clonePtr(n.LastError)
	n.ProviderReceipt = clonePtr(n.ProviderReceipt)
	n.SentAt = clonePtr(n.SentAt)
	n.ClaimToken = clonePtr(n.ClaimToken)
	n.ClaimedUntil = clonePtr(n.ClaimedUntil)
	return n
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
