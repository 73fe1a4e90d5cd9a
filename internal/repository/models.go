package repository

import (
	"time"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/shopspring/decimal"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	EntityRef       string         `gorm:"type:varchar(64);not null"`
	Kind            domain.Kind    `gorm:"type:varchar(32);not null"`
	Channel         domain.Channel `gorm:"type:varchar(16);not null"`
	Recipient       string         `gorm:"type:varchar(255);not null"`
	Subject         *string        `gorm:"type:varchar(255)"`
	BodyTemplate    string         `gorm:"type:text;not null"`
	Status          domain.Status  `gorm:"type:varchar(16);not null"`
	Attempts        int            `gorm:"not null;default:0"`
	MaxAttempts     int            `gorm:"not null"`
	LastError       *string        `gorm:"type:text"`
	ProviderReceipt *string        `gorm:"type:varchar(255)"`
	SentAt          *time.Time     `gorm:"type:timestamptz"`
	ClaimToken      *string        `gorm:"type:uuid"`
	ClaimedUntil    *time.Time     `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID              string  `gorm:"type:uuid;primaryKey"`
	NotificationID  string  `gorm:"type:uuid;not null"`
	AttemptNumber   int     `gorm:"not null"`
	Success         bool    `gorm:"not null"`
	ProviderReceipt *string `gorm:"type:varchar(255)"`
	Error           *string `gorm:"type:text"`
	DurationMillis  int64   `gorm:"not null;default:0"`
	CreatedAt       time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

// SchedulerRunModel is the persistence model for scheduler_runs.
type SchedulerRunModel struct {
	ID         string           `gorm:"type:uuid;primaryKey"`
	BatchSize  int              `gorm:"not null"`
	Selected   int              `gorm:"not null;default:0"`
	Processed  int              `gorm:"not null;default:0"`
	Succeeded  int              `gorm:"not null;default:0"`
	Failed     int              `gorm:"not null;default:0"`
	Exhausted  int              `gorm:"not null;default:0"`
	Cancelled  int              `gorm:"not null;default:0"`
	Skipped    int              `gorm:"not null;default:0"`
	ErrorCount int              `gorm:"not null;default:0"`
	Status     domain.RunStatus `gorm:"type:varchar(20);not null"`
	StartedAt  time.Time        `gorm:"type:timestamptz;not null"`
	FinishedAt *time.Time       `gorm:"type:timestamptz"`
}

func (SchedulerRunModel) TableName() string {
	return "scheduler_runs"
}

// NotificationTemplateModel is the persistence model for notification_templates.
type NotificationTemplateModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Kind      domain.Kind    `gorm:"type:varchar(32);not null;uniqueIndex:ux_templates_kind_channel"`
	Channel   domain.Channel `gorm:"type:varchar(16);not null;uniqueIndex:ux_templates_kind_channel"`
	Subject   *string        `gorm:"type:varchar(255)"`
	Body      string         `gorm:"type:text;not null"`
	Active    bool           `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NotificationTemplateModel) TableName() string {
	return "notification_templates"
}

// ShipmentModel maps the back-office shipments table. It is read only here;
// the table is owned and migrated by the shipment service.
type ShipmentModel struct {
	ID            string          `gorm:"column:id;primaryKey"`
	GuideNumber   string          `gorm:"column:guide_number"`
	RecipientName string          `gorm:"column:recipient_name"`
	Status        string          `gorm:"column:status"`
	Address       string          `gorm:"column:address"`
	Phone         string          `gorm:"column:phone"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2)"`
	Weight        decimal.Decimal `gorm:"column:weight;type:numeric(10,3)"`
	Description   string          `gorm:"column:description"`
}

func (ShipmentModel) TableName() string {
	return "shipments"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:              n.ID,
		EntityRef:       n.EntityRef,
		Kind:            n.Kind,
		Channel:         n.Channel,
		Recipient:       n.Recipient,
		Subject:         n.Subject,
		BodyTemplate:    n.BodyTemplate,
		Status:          n.Status,
		Attempts:        n.Attempts,
		MaxAttempts:     n.MaxAttempts,
		LastError:       n.LastError,
		ProviderReceipt: n.ProviderReceipt,
		SentAt:          n.SentAt,
		ClaimToken:      n.ClaimToken,
		ClaimedUntil:    n.ClaimedUntil,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:              m.ID,
		EntityRef:       m.EntityRef,
		Kind:            m.Kind,
		Channel:         m.Channel,
		Recipient:       m.Recipient,
		Subject:         m.Subject,
		BodyTemplate:    m.BodyTemplate,
		Status:          m.Status,
		Attempts:        m.Attempts,
		MaxAttempts:     m.MaxAttempts,
		LastError:       m.LastError,
		ProviderReceipt: m.ProviderReceipt,
		SentAt:          m.SentAt,
		ClaimToken:      m.ClaimToken,
		ClaimedUntil:    m.ClaimedUntil,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:              a.ID,
		NotificationID:  a.NotificationID,
		AttemptNumber:   a.AttemptNumber,
		Success:         a.Success,
		ProviderReceipt: a.ProviderReceipt,
		Error:           a.Error,
		DurationMillis:  a.DurationMillis,
		CreatedAt:       a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:              m.ID,
		NotificationID:  m.NotificationID,
		AttemptNumber:   m.AttemptNumber,
		Success:         m.Success,
		ProviderReceipt: m.ProviderReceipt,
		Error:           m.Error,
		DurationMillis:  m.DurationMillis,
		CreatedAt:       m.CreatedAt,
	}
}

func runModelFromDomain(r *domain.SchedulerRun) *SchedulerRunModel {
	if r == nil {
		return nil
	}

	return &SchedulerRunModel{
		ID:         r.ID,
		BatchSize:  r.BatchSize,
		Selected:   r.Selected,
		Processed:  r.Processed,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Exhausted:  r.Exhausted,
		Cancelled:  r.Cancelled,
		Skipped:    r.Skipped,
		ErrorCount: r.ErrorCount,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func runModelToDomain(m *SchedulerRunModel) *domain.SchedulerRun {
	if m == nil {
		return nil
	}

	return &domain.SchedulerRun{
		ID:         m.ID,
		BatchSize:  m.BatchSize,
		Selected:   m.Selected,
		Processed:  m.Processed,
		Succeeded:  m.Succeeded,
		Failed:     m.Failed,
		Exhausted:  m.Exhausted,
		Cancelled:  m.Cancelled,
		Skipped:    m.Skipped,
		ErrorCount: m.ErrorCount,
		Status:     m.Status,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

func templateModelFromDomain(t *domain.NotificationTemplate) *NotificationTemplateModel {
	if t == nil {
		return nil
	}

	return &NotificationTemplateModel{
		ID:        t.ID,
		Kind:      t.Kind,
		Channel:   t.Channel,
		Subject:   t.Subject,
		Body:      t.Body,
		Active:    t.Active,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(m *NotificationTemplateModel) *domain.NotificationTemplate {
	if m == nil {
		return nil
	}

	return &domain.NotificationTemplate{
		ID:        m.ID,
		Kind:      m.Kind,
		Channel:   m.Channel,
		Subject:   m.Subject,
		Body:      m.Body,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func shipmentModelToDomain(m *ShipmentModel) domain.Shipment {
	return domain.Shipment{
		ID:            m.ID,
		GuideNumber:   m.GuideNumber,
		RecipientName: m.RecipientName,
		Status:        m.Status,
		Address:       m.Address,
		Phone:         m.Phone,
		TotalAmount:   m.TotalAmount,
		Weight:        m.Weight,
		Description:   m.Description,
	}
}
