package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"gorm.io/gorm"
)

func createSchedulerRunsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_scheduler_runs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SchedulerRunModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scheduler_runs_started_at ON scheduler_runs (started_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SchedulerRunModel{})
		},
	}
}
