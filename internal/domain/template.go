package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationTemplate is the subject/body used for a (kind, channel) pair
// when domain events are turned into notifications.
type NotificationTemplate struct {
	ID        string
	Kind      Kind
	Channel   Channel
	Subject   *string
	Body      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *NotificationTemplate) Validate() error {
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, t.Kind)
	}
	if !t.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, t.Channel)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	return nil
}
