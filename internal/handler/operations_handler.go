package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/queue"
	"github.com/kursadbilgin/courier-notify/internal/service"
)

// OperationsService covers scheduler runs and the runtime retry policy.
type OperationsService interface {
	RunBatch(ctx context.Context, batchSize int) (*service.RunStats, error)
	GetRun(ctx context.Context, id string) (*domain.SchedulerRun, error)
	Policy(ctx context.Context) (domain.RetryPolicy, error)
	UpdatePolicy(ctx context.Context, policy domain.RetryPolicy) (domain.RetryPolicy, error)
}

// EventService covers shipment event intake and the templates it uses.
type EventService interface {
	Publish(ctx context.Context, msg queue.ShipmentEventMessage) error
	Ingest(ctx context.Context, event domain.ShipmentEvent) ([]domain.Notification, error)
	SaveTemplate(ctx context.Context, t domain.NotificationTemplate) (*domain.NotificationTemplate, error)
}

type OperationsHandler struct {
	ops    OperationsService
	events EventService
}

func NewOperationsHandler(ops OperationsService, events EventService) (*OperationsHandler, error) {
	if ops == nil {
		return nil, fmt.Errorf("operations service is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event service is required")
	}
	return &OperationsHandler{ops: ops, events: events}, nil
}

func RegisterOperationsRoutes(router fiber.Router, ops OperationsService, events EventService) error {
	h, err := NewOperationsHandler(ops, events)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/scheduler/run", h.RunScheduler)
	v1.Get("/scheduler/runs/:id", h.GetRun)
	v1.Get("/policy", h.GetPolicy)
	v1.Put("/policy", h.UpdatePolicy)
	v1.Put("/templates", h.SaveTemplate)
	v1.Post("/events", h.PostEvent)

	return nil
}

type policyRequest struct {
	ChannelEnabled  map[string]bool `json:"channelEnabled"`
	MaxAttempts     *int            `json:"maxAttempts" validate:"required,min=1"`
	CooldownMinutes *int            `json:"cooldownMinutes" validate:"required,min=0"`
}

type policyResponse struct {
	ChannelEnabled  map[string]bool `json:"channelEnabled"`
	MaxAttempts     int             `json:"maxAttempts"`
	CooldownMinutes int             `json:"cooldownMinutes"`
}

type templateRequest struct {
	Kind    string  `json:"kind" validate:"required"`
	Channel string  `json:"channel" validate:"required"`
	Subject *string `json:"subject,omitempty"`
	Body    string  `json:"body" validate:"required"`
	Active  *bool   `json:"active,omitempty"`
}

type templateResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Channel   string    `json:"channel"`
	Subject   *string   `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type eventRequest struct {
	EventID    string            `json:"eventId" validate:"required"`
	Kind       string            `json:"kind" validate:"required"`
	ShipmentID string            `json:"shipmentId" validate:"required"`
	Contacts   map[string]string `json:"contacts"`
}

type runResponse struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	BatchSize  int        `json:"batchSize"`
	Selected   int        `json:"selected"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Exhausted  int        `json:"exhausted"`
	Cancelled  int        `json:"cancelled"`
	Skipped    int        `json:"skipped"`
	ErrorCount int        `json:"errorCount"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (h *OperationsHandler) RunScheduler(c *fiber.Ctx) error {
	batchSize := c.QueryInt("batchSize", 0)
	if batchSize < 0 {
		return toHTTPError(fmt.Errorf("%w: batchSize must be >= 0", domain.ErrValidation))
	}

	stats, err := h.ops.RunBatch(c.UserContext(), batchSize)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *OperationsHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.ops.GetRun(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(runResponse{
		ID:         run.ID,
		Status:     run.Status.String(),
		BatchSize:  run.BatchSize,
		Selected:   run.Selected,
		Processed:  run.Processed,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		Exhausted:  run.Exhausted,
		Cancelled:  run.Cancelled,
		Skipped:    run.Skipped,
		ErrorCount: run.ErrorCount,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	})
}

func (h *OperationsHandler) GetPolicy(c *fiber.Ctx) error {
	policy, err := h.ops.Policy(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPolicyResponse(policy))
}

// UpdatePolicy replaces the retry knobs. Channels left out of channelEnabled
// keep their current toggle.
func (h *OperationsHandler) UpdatePolicy(c *fiber.Ctx) error {
	var req policyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateRequest(req); err != nil {
		return toHTTPError(err)
	}

	current, err := h.ops.Policy(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	next := current.Clone()
	next.MaxAttempts = *req.MaxAttempts
	next.CooldownMinutes = *req.CooldownMinutes
	for raw, enabled := range req.ChannelEnabled {
		ch, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		next.ChannelEnabled[ch] = enabled
	}

	updated, err := h.ops.UpdatePolicy(c.UserContext(), next)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toPolicyResponse(updated))
}

func (h *OperationsHandler) SaveTemplate(c *fiber.Ctx) error {
	var req templateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateRequest(req); err != nil {
		return toHTTPError(err)
	}

	kind, err := domain.ParseKindFromString(req.Kind)
	if err != nil {
		return toHTTPError(err)
	}
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return toHTTPError(err)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	saved, err := h.events.SaveTemplate(c.UserContext(), domain.NotificationTemplate{
		Kind:    kind,
		Channel: channel,
		Subject: req.Subject,
		Body:    req.Body,
		Active:  active,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(templateResponse{
		ID:        saved.ID,
		Kind:      saved.Kind.String(),
		Channel:   saved.Channel.String(),
		Subject:   saved.Subject,
		Body:      saved.Body,
		Active:    saved.Active,
		UpdatedAt: saved.UpdatedAt,
	})
}

// PostEvent queues a shipment event for the consumer. Without a broker the
// event is ingested inline and the created notifications are returned.
func (h *OperationsHandler) PostEvent(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateRequest(req); err != nil {
		return toHTTPError(err)
	}

	msg := queue.ShipmentEventMessage{
		EventID:    req.EventID,
		Kind:       domain.Kind(req.Kind),
		ShipmentID: req.ShipmentID,
		Contacts:   req.Contacts,
	}

	err := h.events.Publish(c.UserContext(), msg)
	if err == nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"eventId": req.EventID,
			"status":  "queued",
		})
	}
	if !errors.Is(err, service.ErrNoPublisher) {
		return toHTTPError(err)
	}

	event, err := msg.ToDomain()
	if err != nil {
		return toHTTPError(err)
	}
	created, err := h.events.Ingest(c.UserContext(), event)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"eventId":       req.EventID,
		"notifications": toNotificationResponses(created),
	})
}

func toPolicyResponse(p domain.RetryPolicy) policyResponse {
	enabled := make(map[string]bool, len(domain.Channels))
	for _, ch := range domain.Channels {
		enabled[ch.String()] = p.IsChannelEnabled(ch)
	}
	return policyResponse{
		ChannelEnabled:  enabled,
		MaxAttempts:     p.MaxAttempts,
		CooldownMinutes: p.CooldownMinutes,
	}
}
