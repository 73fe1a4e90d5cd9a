package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"gorm.io/gorm"
)

func createNotificationTemplatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_notification_templates",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.NotificationTemplateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationTemplateModel{})
		},
	}
}
