package repository

import (
	"context"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository interface {
	// FindActive returns the active templates for kind, one per channel.
	FindActive(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error)
	Save(ctx context.Context, t *domain.NotificationTemplate) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) FindActive(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
	var models []NotificationTemplateModel
	err := r.db.WithContext(ctx).
		Where("kind = ? AND active = ?", kind, true).
		Order("channel ASC").
		Find(&models).Error
	if err != nil {
		return nil, storeError("find templates", err)
	}

	templates := make([]domain.NotificationTemplate, 0, len(models))
	for i := range models {
		templates = append(templates, *templateModelToDomain(&models[i]))
	}
	return templates, nil
}

// Save inserts the template or replaces the one stored for its (kind, channel).
func (r *GormTemplateRepo) Save(ctx context.Context, t *domain.NotificationTemplate) error {
	model := templateModelFromDomain(t)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "active", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return storeError("save template", err)
	}
	*t = *templateModelToDomain(model)
	return nil
}
