package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"go.uber.org/zap"
)

const cancelReasonOperator = "cancelled by operator"

// CreateNotificationInput carries the caller-supplied fields of a new notification.
type CreateNotificationInput struct {
	EntityRef    string
	Kind         domain.Kind
	Channel      domain.Channel
	Recipient    string
	Subject      *string
	BodyTemplate string
}

// Statistics holds notification counts by state, optionally scoped.
type Statistics struct {
	Channel *domain.Channel         `json:"channel,omitempty"`
	Kind    *domain.Kind            `json:"kind,omitempty"`
	Total   int64                   `json:"total"`
	ByState map[domain.Status]int64 `json:"byState"`
}

type NotificationService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	runs          repository.RunRepository
	dispatcher    *Dispatcher
	scheduler     *RetryScheduler
	policies      PolicySource
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	runs repository.RunRepository,
	dispatcher *Dispatcher,
	scheduler *RetryScheduler,
	policies PolicySource,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		attempts:      attempts,
		runs:          runs,
		dispatcher:    dispatcher,
		scheduler:     scheduler,
		policies:      policies,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

// Create stores a new PENDING notification. The attempt budget is copied from
// the current policy; a subject is kept only for EMAIL.
func (s *NotificationService) Create(ctx context.Context, in CreateNotificationInput) (*domain.Notification, error) {
	policy, err := s.policies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retry policy: %w", err)
	}

	now := s.now().UTC()
	n := &domain.Notification{
		ID:           s.newID(),
		EntityRef:    strings.TrimSpace(in.EntityRef),
		Kind:         in.Kind,
		Channel:      in.Channel,
		Recipient:    strings.TrimSpace(in.Recipient),
		BodyTemplate: in.BodyTemplate,
		Status:       domain.StatusPending,
		MaxAttempts:  policy.MaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Channel == domain.ChannelEmail && in.Subject != nil && strings.TrimSpace(*in.Subject) != "" {
		subject := strings.TrimSpace(*in.Subject)
		n.Subject = &subject
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("notification created",
		zap.String("notificationId", n.ID),
		zap.String("channel", n.Channel.String()),
		zap.String("kind", n.Kind.String()),
	)
	return n, nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

// Attempts lists the delivery attempts of a notification in order.
func (s *NotificationService) Attempts(ctx context.Context, id string) ([]domain.NotificationAttempt, error) {
	if _, err := s.notifications.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return []domain.NotificationAttempt{}, nil
	}
	return s.attempts.ListByNotificationID(ctx, id)
}

// Dispatch forces one dispatch of a PENDING notification regardless of its
// cooldown, using a fresh policy snapshot.
func (s *NotificationService) Dispatch(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	policy, err := s.policies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retry policy: %w", err)
	}

	return s.dispatcher.Dispatch(ctx, *n, policy)
}

// Cancel moves a PENDING notification to CANCELLED without consuming an
// attempt. It fails with domain.ErrNotPending once the record has left
// PENDING and domain.ErrConflict while a dispatch holds it.
func (s *NotificationService) Cancel(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := n.Cancel(cancelReasonOperator, now); err != nil {
		return nil, err
	}

	if err := s.notifications.Cancel(ctx, id, cancelReasonOperator, now); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		current, getErr := s.notifications.GetByID(ctx, id)
		if getErr == nil && current.Status != domain.StatusPending {
			return nil, fmt.Errorf("%w: state is %s", domain.ErrNotPending, current.Status)
		}
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("notification cancelled",
		zap.String("notificationId", id),
		zap.String("channel", n.Channel.String()),
	)
	return n, nil
}

// Statistics counts notifications by state. Every state is present in the
// result, with zero when no record is in it.
func (s *NotificationService) Statistics(ctx context.Context, filter repository.StatsFilter) (*Statistics, error) {
	counts, err := s.notifications.CountByStatus(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		Channel: filter.Channel,
		Kind:    filter.Kind,
		ByState: make(map[domain.Status]int64, len(domain.Statuses)),
	}
	for _, st := range domain.Statuses {
		stats.ByState[st] = counts[st]
		stats.Total += counts[st]
	}
	return stats, nil
}

// RunBatch triggers one scheduler run outside the periodic schedule.
func (s *NotificationService) RunBatch(ctx context.Context, batchSize int) (*RunStats, error) {
	if s.scheduler == nil {
		return nil, fmt.Errorf("scheduler is not configured")
	}
	return s.scheduler.RunOnce(ctx, batchSize)
}

func (s *NotificationService) GetRun(ctx context.Context, id string) (*domain.SchedulerRun, error) {
	if s.runs == nil {
		return nil, domain.ErrNotFound
	}
	return s.runs.GetByID(ctx, id)
}

// Policy returns the current retry policy snapshot.
func (s *NotificationService) Policy(ctx context.Context) (domain.RetryPolicy, error) {
	return s.policies.Snapshot(ctx)
}

// UpdatePolicy replaces the runtime policy when the source supports it.
func (s *NotificationService) UpdatePolicy(ctx context.Context, policy domain.RetryPolicy) (domain.RetryPolicy, error) {
	store, ok := s.policies.(PolicyStore)
	if !ok {
		return domain.RetryPolicy{}, fmt.Errorf("%w: retry policy is read only", domain.ErrConflict)
	}
	if err := store.Update(ctx, policy); err != nil {
		return domain.RetryPolicy{}, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("retry policy updated",
		zap.Int("maxAttempts", policy.MaxAttempts),
		zap.Int("cooldownMinutes", policy.CooldownMinutes),
	)
	return store.Snapshot(ctx)
}
