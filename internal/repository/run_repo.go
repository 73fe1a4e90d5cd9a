package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"gorm.io/gorm"
)

type RunRepository interface {
	Create(ctx context.Context, run *domain.SchedulerRun) error
	Finish(ctx context.Context, run *domain.SchedulerRun) error
	GetByID(ctx context.Context, id string) (*domain.SchedulerRun, error)
}

type GormRunRepo struct {
	db *gorm.DB
}

func NewGormRunRepo(db *gorm.DB) *GormRunRepo {
	return &GormRunRepo{db: db}
}

func (r *GormRunRepo) Create(ctx context.Context, run *domain.SchedulerRun) error {
	model := runModelFromDomain(run)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return storeError("create scheduler run", err)
	}
	*run = *runModelToDomain(model)
	return nil
}

// Finish stores the final counters of a run.
func (r *GormRunRepo) Finish(ctx context.Context, run *domain.SchedulerRun) error {
	result := r.db.WithContext(ctx).
		Model(&SchedulerRunModel{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"selected":    run.Selected,
			"processed":   run.Processed,
			"succeeded":   run.Succeeded,
			"failed":      run.Failed,
			"exhausted":   run.Exhausted,
			"cancelled":   run.Cancelled,
			"skipped":     run.Skipped,
			"error_count": run.ErrorCount,
			"status":      run.Status,
			"finished_at": run.FinishedAt,
		})
	if result.Error != nil {
		return storeError("finish scheduler run", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRunRepo) GetByID(ctx context.Context, id string) (*domain.SchedulerRun, error) {
	var model SchedulerRunModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get scheduler run", err)
	}
	return runModelToDomain(&model), nil
}
