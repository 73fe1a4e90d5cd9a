package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"github.com/kursadbilgin/courier-notify/internal/queue"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func registrationTemplates() []domain.NotificationTemplate {
	subject := "Shipment {guide_number} registered"
	return []domain.NotificationTemplate{
		{ID: "tpl-sms", Kind: domain.KindRegistration, Channel: domain.ChannelSMS, Body: "Guide {guide_number} registered", Active: true},
		{ID: "tpl-email", Kind: domain.KindRegistration, Channel: domain.ChannelEmail, Subject: &subject, Body: "Hello {recipient_name}", Active: true},
		{ID: "tpl-push", Kind: domain.KindRegistration, Channel: domain.ChannelPush, Body: "Registered", Active: true},
	}
}

func newTestEventService(t *testing.T, templates *fakeTemplateRepo, logger *zap.Logger) (*EventIngestService, *fakePolicyStore) {
	t.Helper()

	policies := &fakePolicyStore{policy: domain.DefaultRetryPolicy()}
	svc, err := NewEventIngestService(seedMemoryRepo(), templates, policies, logger)
	if err != nil {
		t.Fatalf("NewEventIngestService() error = %v", err)
	}
	svc.now = newTestClock(testStart).Now
	return svc, policies
}

func TestEventIngestCreatesOneNotificationPerContactedChannel(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findActiveFn: func(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
			if kind != domain.KindRegistration {
				t.Fatalf("kind = %s, want REGISTRATION", kind)
			}
			return registrationTemplates(), nil
		},
	}
	svc, policies := newTestEventService(t, templates, nil)
	policies.policy.MaxAttempts = 4

	event := domain.ShipmentEvent{
		EventID:    "evt-1",
		Kind:       domain.KindRegistration,
		ShipmentID: "shp-1",
		Contacts: map[domain.Channel]string{
			domain.ChannelSMS:   "+5215512345678",
			domain.ChannelEmail: "ana@example.com",
		},
	}

	created, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2 (no push contact)", len(created))
	}

	byChannel := make(map[domain.Channel]domain.Notification, len(created))
	for _, n := range created {
		byChannel[n.Channel] = n
		if n.Status != domain.StatusPending || n.Attempts != 0 || n.MaxAttempts != 4 {
			t.Fatalf("%s = %s %d/%d, want PENDING 0/4", n.Channel, n.Status, n.Attempts, n.MaxAttempts)
		}
		if n.EntityRef != "shp-1" || n.Kind != domain.KindRegistration {
			t.Fatalf("%s entity/kind = %s/%s", n.Channel, n.EntityRef, n.Kind)
		}
	}

	email := byChannel[domain.ChannelEmail]
	if email.Recipient != "ana@example.com" || email.Subject == nil {
		t.Fatalf("email = %+v, want recipient and subject", email)
	}
	if sms := byChannel[domain.ChannelSMS]; sms.Subject != nil || sms.BodyTemplate != "Guide {guide_number} registered" {
		t.Fatalf("sms = %+v, want template body without subject", sms)
	}
}

func TestEventIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findActiveFn: func(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
			return registrationTemplates()[:1], nil
		},
	}
	svc, _ := newTestEventService(t, templates, nil)

	event := domain.ShipmentEvent{
		EventID:    "evt-1",
		Kind:       domain.KindRegistration,
		ShipmentID: "shp-1",
		Contacts:   map[domain.Channel]string{domain.ChannelSMS: "+5215512345678"},
	}

	first, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	second, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Fatalf("ids = %v / %v, want the same record", first, second)
	}

	count, _ := svc.notifications.CountByStatus(context.Background(), repository.StatsFilter{})
	if count[domain.StatusPending] != 1 {
		t.Fatalf("pending = %d, want 1", count[domain.StatusPending])
	}

	other := event
	other.EventID = "evt-2"
	third, err := svc.Ingest(context.Background(), other)
	if err != nil {
		t.Fatalf("Ingest(evt-2) error = %v", err)
	}
	if third[0].ID == first[0].ID {
		t.Fatal("different events should produce different notifications")
	}
}

func TestEventIngestSkipsUnfitTemplate(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	templates := &fakeTemplateRepo{
		findActiveFn: func(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
			return []domain.NotificationTemplate{
				{Kind: kind, Channel: domain.ChannelSMS, Body: fmt.Sprintf("%0200d", 0), Active: true},
				{Kind: kind, Channel: domain.ChannelPush, Body: "Delayed", Active: true},
			}, nil
		},
	}
	svc, _ := newTestEventService(t, templates, zap.New(core))

	created, err := svc.Ingest(context.Background(), domain.ShipmentEvent{
		EventID:    "evt-1",
		Kind:       domain.KindDelay,
		ShipmentID: "shp-1",
		Contacts: map[domain.Channel]string{
			domain.ChannelSMS:  "+5215512345678",
			domain.ChannelPush: "device-token",
		},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(created) != 1 || created[0].Channel != domain.ChannelPush {
		t.Fatalf("created = %+v, want only push", created)
	}
	if logs.FilterMessage("skipping template that does not fit its channel").Len() != 1 {
		t.Fatal("expected warning for oversized sms template")
	}
}

func TestEventIngestErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid event", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestEventService(t, &fakeTemplateRepo{}, nil)
		if _, err := svc.Ingest(context.Background(), domain.ShipmentEvent{Kind: domain.KindDelay}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Ingest() error = %v, want ErrValidation", err)
		}
	})

	t.Run("template store failure", func(t *testing.T) {
		t.Parallel()

		templates := &fakeTemplateRepo{
			findActiveFn: func(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
				return nil, fmt.Errorf("%w: find templates: timeout", domain.ErrStore)
			},
		}
		svc, _ := newTestEventService(t, templates, nil)
		_, err := svc.Ingest(context.Background(), domain.ShipmentEvent{EventID: "e", Kind: domain.KindDelay, ShipmentID: "s"})
		if !errors.Is(err, domain.ErrStore) {
			t.Fatalf("Ingest() error = %v, want ErrStore", err)
		}
	})

	t.Run("no templates", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestEventService(t, &fakeTemplateRepo{}, nil)
		created, err := svc.Ingest(context.Background(), domain.ShipmentEvent{EventID: "e", Kind: domain.KindDelay, ShipmentID: "s"})
		if err != nil || len(created) != 0 {
			t.Fatalf("Ingest() = %v, %v, want empty result", created, err)
		}
	})
}

func TestEventIngestHandleMessage(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findActiveFn: func(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
			return registrationTemplates(), nil
		},
	}
	svc, _ := newTestEventService(t, templates, nil)

	err := svc.HandleMessage(context.Background(), queue.ShipmentEventMessage{
		EventID:    "evt-1",
		Kind:       "registration",
		ShipmentID: "shp-1",
		Contacts:   map[string]string{"push": "device-token"},
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	err = svc.HandleMessage(context.Background(), queue.ShipmentEventMessage{EventID: "evt-2", Kind: "payment", ShipmentID: "shp-1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("HandleMessage() error = %v, want ErrValidation", err)
	}
}

func TestEventIngestPublish(t *testing.T) {
	t.Parallel()

	svc, _ := newTestEventService(t, &fakeTemplateRepo{}, nil)
	msg := queue.ShipmentEventMessage{EventID: "evt-1", Kind: domain.KindDelay, ShipmentID: "shp-1"}

	if err := svc.Publish(context.Background(), msg); !errors.Is(err, ErrNoPublisher) {
		t.Fatalf("Publish() error = %v, want ErrNoPublisher", err)
	}

	var published queue.ShipmentEventMessage
	svc.SetPublisher(&fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.ShipmentEventMessage) error {
			if queueName != "shipment.events" {
				t.Fatalf("queue = %s, want shipment.events", queueName)
			}
			published = msg
			return nil
		},
	}, " Shipment.Events ")

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	if err := svc.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if published.CorrelationID != "corr-1" {
		t.Fatalf("CorrelationID = %q, want corr-1", published.CorrelationID)
	}

	if err := svc.Publish(ctx, queue.ShipmentEventMessage{Kind: domain.KindDelay}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Publish() error = %v, want ErrValidation", err)
	}
}

func TestEventIngestSaveTemplate(t *testing.T) {
	t.Parallel()

	var saved domain.NotificationTemplate
	templates := &fakeTemplateRepo{
		saveFn: func(ctx context.Context, tpl *domain.NotificationTemplate) error {
			saved = *tpl
			return nil
		},
	}
	svc, _ := newTestEventService(t, templates, nil)

	subject := "ignored"
	got, err := svc.SaveTemplate(context.Background(), domain.NotificationTemplate{
		Kind:    domain.KindReminder,
		Channel: domain.ChannelSMS,
		Subject: &subject,
		Body:    "Pick up {guide_number}",
		Active:  true,
	})
	if err != nil {
		t.Fatalf("SaveTemplate() error = %v", err)
	}
	if got.ID == "" || saved.ID != got.ID {
		t.Fatalf("ID = %q saved %q, want generated id", got.ID, saved.ID)
	}
	if saved.Subject != nil {
		t.Fatal("subject should be dropped for sms templates")
	}
	if !saved.UpdatedAt.Equal(testStart) {
		t.Fatalf("UpdatedAt = %v, want %v", saved.UpdatedAt, testStart)
	}

	_, err = svc.SaveTemplate(context.Background(), domain.NotificationTemplate{
		Kind:    domain.KindReminder,
		Channel: domain.ChannelPush,
		Body:    fmt.Sprintf("%0300d", 0),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SaveTemplate() error = %v, want ErrValidation", err)
	}
}
