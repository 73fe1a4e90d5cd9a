package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/queue"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"go.uber.org/zap"
)

// ErrNoPublisher is returned by Publish when asynchronous intake is not wired.
var ErrNoPublisher = errors.New("event publisher is not configured")

// eventNamespace seeds the deterministic ids of event-born notifications, so
// a redelivered event maps onto the records it already created.
var eventNamespace = uuid.MustParse("b0f4a8c2-5d7e-4e19-8f3a-6c1d2e9b7a54")

// EventIngestService turns shipment events into PENDING notifications, one
// per channel that has both an active template and a customer contact.
type EventIngestService struct {
	notifications repository.NotificationRepository
	templates     repository.TemplateRepository
	policies      PolicySource
	publisher     queue.Publisher
	eventsQueue   string
	logger        *zap.Logger
	now           func() time.Time
}

func NewEventIngestService(
	notifications repository.NotificationRepository,
	templates repository.TemplateRepository,
	policies PolicySource,
	logger *zap.Logger,
) (*EventIngestService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventIngestService{
		notifications: notifications,
		templates:     templates,
		policies:      policies,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// SetPublisher enables asynchronous intake through Publish.
func (s *EventIngestService) SetPublisher(publisher queue.Publisher, eventsQueue string) {
	if s == nil {
		return
	}
	s.publisher = publisher
	s.eventsQueue = queue.QueueName(eventsQueue)
}

// Publish enqueues an event for the consumer instead of ingesting it inline.
func (s *EventIngestService) Publish(ctx context.Context, msg queue.ShipmentEventMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if s.publisher == nil {
		return ErrNoPublisher
	}
	if msg.CorrelationID == "" {
		if cid, ok := observability.CorrelationIDFromContext(ctx); ok {
			msg.CorrelationID = cid
		}
	}
	return s.publisher.Publish(ctx, s.eventsQueue, msg)
}

// HandleMessage is the queue.MessageHandler for the events queue.
func (s *EventIngestService) HandleMessage(ctx context.Context, msg queue.ShipmentEventMessage) error {
	event, err := msg.ToDomain()
	if err != nil {
		return err
	}
	_, err = s.Ingest(ctx, event)
	return err
}

// Ingest creates the notifications for event and returns them. Records that
// already exist from an earlier delivery of the same event are returned as
// stored.
func (s *EventIngestService) Ingest(ctx context.Context, event domain.ShipmentEvent) ([]domain.Notification, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("eventId", event.EventID),
		zap.String("kind", event.Kind.String()),
		zap.String("shipmentId", event.ShipmentID),
	)

	templates, err := s.templates.FindActive(ctx, event.Kind)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if len(templates) == 0 {
		logger.Warn("no active templates for event kind")
		return []domain.Notification{}, nil
	}

	policy, err := s.policies.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retry policy: %w", err)
	}

	now := s.now().UTC()
	created := make([]domain.Notification, 0, len(templates))
	for _, tpl := range templates {
		recipient, ok := event.Contacts[tpl.Channel]
		if !ok {
			continue
		}

		n := domain.Notification{
			ID:           eventNotificationID(event.EventID, tpl.Channel),
			EntityRef:    event.ShipmentID,
			Kind:         event.Kind,
			Channel:      tpl.Channel,
			Recipient:    recipient,
			BodyTemplate: tpl.Body,
			Status:       domain.StatusPending,
			MaxAttempts:  policy.MaxAttempts,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if tpl.Channel == domain.ChannelEmail && tpl.Subject != nil {
			subject := *tpl.Subject
			n.Subject = &subject
		}

		if err := n.Validate(); err != nil {
			logger.Warn("skipping template that does not fit its channel",
				zap.String("channel", tpl.Channel.String()),
				zap.Error(err),
			)
			continue
		}

		if err := s.notifications.Create(ctx, &n); err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				return nil, fmt.Errorf("create notification for %s: %w", tpl.Channel, err)
			}
			existing, getErr := s.notifications.GetByID(ctx, n.ID)
			if getErr != nil {
				return nil, fmt.Errorf("load existing notification after duplicate event: %w", getErr)
			}
			logger.Info("duplicate event resolved to existing notification",
				zap.String("notificationId", existing.ID),
			)
			created = append(created, *existing)
			continue
		}

		created = append(created, n)
	}

	logger.Info("shipment event ingested", zap.Int("notifications", len(created)))
	return created, nil
}

func eventNotificationID(eventID string, channel domain.Channel) string {
	return uuid.NewSHA1(eventNamespace, []byte(eventID+"/"+channel.String())).String()
}

// SaveTemplate creates or replaces the template for its (kind, channel) pair.
func (s *EventIngestService) SaveTemplate(ctx context.Context, t domain.NotificationTemplate) (*domain.NotificationTemplate, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Channel != domain.ChannelEmail {
		t.Subject = nil
	}
	probe := domain.Notification{
		Kind:         t.Kind,
		Channel:      t.Channel,
		Recipient:    "template",
		BodyTemplate: t.Body,
		MaxAttempts:  1,
	}
	if err := probe.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if err := s.templates.Save(ctx, &t); err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("notification template saved",
		zap.String("kind", t.Kind.String()),
		zap.String("channel", t.Channel.String()),
		zap.Bool("active", t.Active),
	)
	return &t, nil
}
