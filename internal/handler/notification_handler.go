package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"github.com/kursadbilgin/courier-notify/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Create(ctx context.Context, in service.CreateNotificationInput) (*domain.Notification, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	Attempts(ctx context.Context, id string) ([]domain.NotificationAttempt, error)
	Dispatch(ctx context.Context, id string) (*domain.Notification, error)
	Cancel(ctx context.Context, id string) (*domain.Notification, error)
	Statistics(ctx context.Context, filter repository.StatsFilter) (*service.Statistics, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/attempts", h.ListAttempts)
	v1.Post("/notifications/:id/dispatch", h.DispatchNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Get("/statistics", h.GetStatistics)

	return nil
}

type createNotificationRequest struct {
	EntityRef string  `json:"entityRef"`
	Kind      string  `json:"kind" validate:"required"`
	Channel   string  `json:"channel" validate:"required"`
	Recipient string  `json:"recipient" validate:"required"`
	Subject   *string `json:"subject,omitempty"`
	Body      string  `json:"body" validate:"required"`
}

type notificationResponse struct {
	ID              string     `json:"id"`
	EntityRef       string     `json:"entityRef,omitempty"`
	Kind            string     `json:"kind"`
	Channel         string     `json:"channel"`
	Recipient       string     `json:"recipient"`
	Subject         *string    `json:"subject,omitempty"`
	Body            string     `json:"body"`
	State           string     `json:"state"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"maxAttempts"`
	LastError       *string    `json:"lastError,omitempty"`
	ProviderReceipt *string    `json:"providerReceipt,omitempty"`
	SentAt          *time.Time `json:"sentAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type attemptResponse struct {
	AttemptNumber   int       `json:"attemptNumber"`
	Success         bool      `json:"success"`
	ProviderReceipt *string   `json:"providerReceipt,omitempty"`
	Error           *string   `json:"error,omitempty"`
	DurationMillis  int64     `json:"durationMillis"`
	CreatedAt       time.Time `json:"createdAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
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

	created, err := h.service.Create(c.UserContext(), service.CreateNotificationInput{
		EntityRef:    req.EntityRef,
		Kind:         kind,
		Channel:      channel,
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		BodyTemplate: req.Body,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.service.Attempts(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, attemptResponse{
			AttemptNumber:   a.AttemptNumber,
			Success:         a.Success,
			ProviderReceipt: a.ProviderReceipt,
			Error:           a.Error,
			DurationMillis:  a.DurationMillis,
			CreatedAt:       a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"attempts":       items,
	})
}

func (h *NotificationHandler) DispatchNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.Dispatch(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.Cancel(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) GetStatistics(c *fiber.Ctx) error {
	var filter repository.StatsFilter

	channel, err := parseChannelQuery(c.Query("channel"))
	if err != nil {
		return toHTTPError(err)
	}
	kind, err := parseKindQuery(c.Query("kind"))
	if err != nil {
		return toHTTPError(err)
	}
	filter.Channel = channel
	filter.Kind = kind

	stats, err := h.service.Statistics(c.UserContext(), filter)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(stats)
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	rawState := strings.TrimSpace(c.Query("state"))
	if rawState == "" {
		rawState = strings.TrimSpace(c.Query("status"))
	}
	if rawState != "" {
		status, err := domain.ParseStatusFromString(rawState)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	channel, err := parseChannelQuery(c.Query("channel"))
	if err != nil {
		return repository.ListParams{}, err
	}
	kind, err := parseKindQuery(c.Query("kind"))
	if err != nil {
		return repository.ListParams{}, err
	}
	params.Channel = channel
	params.Kind = kind

	return params, nil
}

func parseChannelQuery(value string) (*domain.Channel, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	ch, err := domain.ParseChannelFromString(value)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func parseKindQuery(value string) (*domain.Kind, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	k, err := domain.ParseKindFromString(value)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:              n.ID,
		EntityRef:       n.EntityRef,
		Kind:            n.Kind.String(),
		Channel:         n.Channel.String(),
		Recipient:       n.Recipient,
		Subject:         n.Subject,
		Body:            n.BodyTemplate,
		State:           n.Status.String(),
		Attempts:        n.Attempts,
		MaxAttempts:     n.MaxAttempts,
		LastError:       n.LastError,
		ProviderReceipt: n.ProviderReceipt,
		SentAt:          n.SentAt,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotPending):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
