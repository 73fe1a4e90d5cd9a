package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type ListParams struct {
	Status   *domain.Status
	Channel  *domain.Channel
	Kind     *domain.Kind
	Page     int
	PageSize int
}

// StatsFilter narrows statistics to one channel and/or kind.
type StatsFilter struct {
	Channel *domain.Channel
	Kind    *domain.Kind
}

// NotificationRepository persists notification records. Mutations after
// creation are conditional: they apply only while the record is still in the
// state the caller read, and report domain.ErrConflict otherwise.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	// ListEligible returns PENDING records that are unclaimed and either never
	// tried or idle for at least cooldown, oldest first.
	ListEligible(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error)
	// Claim leases the record to token until the given time, provided it is
	// still PENDING with expectedAttempts and holds no live lease.
	Claim(ctx context.Context, id string, expectedAttempts int, token string, now, until time.Time) error
	// SaveOutcome writes the dispatch result and drops the lease, provided
	// token still holds it.
	SaveOutcome(ctx context.Context, n *domain.Notification, token string) error
	Release(ctx context.Context, id, token string) error
	Cancel(ctx context.Context, id, reason string, now time.Time) error
	CountByStatus(ctx context.Context, filter StatsFilter) (map[domain.Status]int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: notification %s already exists", domain.ErrConflict, n.ID)
		}
		return storeError("create notification", err)
	}
	*n = *notificationModelToDomain(model)
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get notification", err)
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storeError("count notifications", err)
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, storeError("list notifications", err)
	}

	return toDomainNotifications(models), total, nil
}

func (r *GormNotificationRepo) ListEligible(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		return nil, nil
	}

	cutoff := now.Add(-cooldown)

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Where("attempts = 0 OR updated_at <= ?", cutoff).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, storeError("list eligible notifications", err)
	}

	return toDomainNotifications(models), nil
}

func (r *GormNotificationRepo) Claim(ctx context.Context, id string, expectedAttempts int, token string, now, until time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND attempts = ?", id, domain.StatusPending, expectedAttempts).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		UpdateColumns(map[string]any{
			"claim_token":   token,
			"claimed_until": until,
		})
	if result.Error != nil {
		return storeError("claim notification", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: notification %s could not be claimed", domain.ErrConflict, id)
	}
	return nil
}

func (r *GormNotificationRepo) SaveOutcome(ctx context.Context, n *domain.Notification, token string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND claim_token = ?", n.ID, domain.StatusPending, token).
		UpdateColumns(map[string]any{
			"status":           n.Status,
			"attempts":         n.Attempts,
			"last_error":       n.LastError,
			"provider_receipt": n.ProviderReceipt,
			"sent_at":          n.SentAt,
			"updated_at":       n.UpdatedAt,
			"claim_token":      nil,
			"claimed_until":    nil,
		})
	if result.Error != nil {
		return storeError("save notification outcome", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: claim on notification %s was lost", domain.ErrConflict, n.ID)
	}

	n.ClaimToken = nil
	n.ClaimedUntil = nil
	return nil
}

func (r *GormNotificationRepo) Release(ctx context.Context, id, token string) error {
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND claim_token = ?", id, token).
		UpdateColumns(map[string]any{
			"claim_token":   nil,
			"claimed_until": nil,
		}).Error
	if err != nil {
		return storeError("release notification claim", err)
	}
	return nil
}

func (r *GormNotificationRepo) Cancel(ctx context.Context, id, reason string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		UpdateColumns(map[string]any{
			"status":        domain.StatusCancelled,
			"last_error":    reason,
			"updated_at":    now,
			"claim_token":   nil,
			"claimed_until": nil,
		})
	if result.Error != nil {
		return storeError("cancel notification", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: notification %s changed or is being dispatched", domain.ErrConflict, id)
	}
	return nil
}

type statusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context, filter StatsFilter) (map[domain.Status]int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})
	if filter.Channel != nil {
		query = query.Where("channel = ?", *filter.Channel)
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}

	var rows []statusCount
	err := query.
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError("count notifications by status", err)
	}

	counts := make(map[domain.Status]int64, len(domain.Statuses))
	for _, st := range domain.Statuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func normalizePage(page, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}

func toDomainNotifications(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}
