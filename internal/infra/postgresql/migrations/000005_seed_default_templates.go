package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"github.com/kursadbilgin/courier-notify/internal/template"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var templateNamespace = uuid.MustParse("4f1c9a62-8a0e-4b8e-9d51-2a7c3e0d6b10")

var defaultSMSBodies = map[domain.Kind]string{
	domain.KindRegistration:       "Guide {guide_number} registered for {recipient_name}.",
	domain.KindStatusChange:       "Guide {guide_number} is now {status}.",
	domain.KindDeliverySuccess:    "Guide {guide_number} was delivered to {address}.",
	domain.KindDeliveryAttempt:    "We tried to deliver guide {guide_number} today. We will try again.",
	domain.KindDelay:              "Guide {guide_number} is delayed. Sorry for the inconvenience.",
	domain.KindIssue:              "There is an issue with guide {guide_number}. Call us at {phone}.",
	domain.KindReminder:           "Reminder: guide {guide_number} has a pending balance of {total}.",
	domain.KindPickupConfirmation: "Pickup for guide {guide_number} confirmed.",
}

var defaultEmailSubjects = map[domain.Kind]string{
	domain.KindRegistration:       "Shipment {guide_number} registered",
	domain.KindStatusChange:       "Shipment {guide_number}: {status}",
	domain.KindDeliverySuccess:    "Shipment {guide_number} delivered",
	domain.KindDeliveryAttempt:    "Delivery attempt for shipment {guide_number}",
	domain.KindDelay:              "Shipment {guide_number} delayed",
	domain.KindIssue:              "Action needed on shipment {guide_number}",
	domain.KindReminder:           "Payment reminder for shipment {guide_number}",
	domain.KindPickupConfirmation: "Pickup confirmed for shipment {guide_number}",
}

const defaultEmailBody = `Hello {recipient_name},

{summary}

Guide: {guide_number}
Status: {status}
Address: {address}
Weight: {weight} kg
Total: {total}
Contents: {description}
`

func seedDefaultTemplates() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_seed_default_templates",
		Migrate: func(tx *gorm.DB) error {
			rows := make([]repository.NotificationTemplateModel, 0, len(defaultSMSBodies)*2)
			for kind, body := range defaultSMSBodies {
				subject := defaultEmailSubjects[kind]
				rows = append(rows,
					repository.NotificationTemplateModel{
						ID:      templateID(kind, domain.ChannelSMS),
						Kind:    kind,
						Channel: domain.ChannelSMS,
						Body:    body,
						Active:  true,
					},
					repository.NotificationTemplateModel{
						ID:      templateID(kind, domain.ChannelEmail),
						Kind:    kind,
						Channel: domain.ChannelEmail,
						Subject: &subject,
						Body:    template.Render(defaultEmailBody, map[string]string{"summary": body}),
						Active:  true,
					},
				)
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		},
		Rollback: func(tx *gorm.DB) error {
			ids := make([]string, 0, len(defaultSMSBodies)*2)
			for kind := range defaultSMSBodies {
				ids = append(ids, templateID(kind, domain.ChannelSMS), templateID(kind, domain.ChannelEmail))
			}
			return tx.Where("id IN ?", ids).Delete(&repository.NotificationTemplateModel{}).Error
		},
	}
}

func templateID(kind domain.Kind, channel domain.Channel) string {
	return uuid.NewSHA1(templateNamespace, []byte(kind.String()+"/"+channel.String())).String()
}
