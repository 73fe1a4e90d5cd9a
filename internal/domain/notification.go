package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every state in display order.
var Statuses = []Status{StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusCancelled}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail        Channel = "EMAIL"
	ChannelSMS          Channel = "SMS"
	ChannelMessagingApp Channel = "MESSAGING_APP"
	ChannelPush         Channel = "PUSH"
	ChannelVoiceCall    Channel = "VOICE_CALL"
)

// Channels lists every supported delivery channel.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelMessagingApp, ChannelPush, ChannelVoiceCall}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelMessagingApp, ChannelPush, ChannelVoiceCall:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Kind is the category of domain event that produced a notification.
type Kind string

const (
	KindRegistration       Kind = "REGISTRATION"
	KindStatusChange       Kind = "STATUS_CHANGE"
	KindDeliverySuccess    Kind = "DELIVERY_SUCCESS"
	KindDeliveryAttempt    Kind = "DELIVERY_ATTEMPT"
	KindDelay              Kind = "DELAY"
	KindIssue              Kind = "ISSUE"
	KindReminder           Kind = "REMINDER"
	KindPickupConfirmation Kind = "PICKUP_CONFIRMATION"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindRegistration, KindStatusChange, KindDeliverySuccess, KindDeliveryAttempt,
		KindDelay, KindIssue, KindReminder, KindPickupConfirmation:
		return true
	}
	return false
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}

// Body template limits per channel (in characters).
const (
	MaxSMSContent          = 160
	MaxPushContent         = 240
	MaxVoiceCallContent    = 1000
	MaxMessagingAppContent = 4096
	MaxEmailContent        = 10000
)

// LastErrorChannelDisabled is recorded when dispatch finds the channel switched off.
const LastErrorChannelDisabled = "channel disabled"

// Notification is one unit of outbound communication.
type Notification struct {
	ID              string
	EntityRef       string
	Kind            Kind
	Channel         Channel
	Recipient       string
	Subject         *string
	BodyTemplate    string
	Status          Status
	Attempts        int
	MaxAttempts     int
	LastError       *string
	ProviderReceipt *string
	SentAt          *time.Time
	ClaimToken      *string
	ClaimedUntil    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(n.BodyTemplate) == "" {
		return fmt.Errorf("%w: body template is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, n.Kind)
	}
	if n.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrValidation)
	}
	if n.Attempts < 0 || n.Attempts > n.MaxAttempts {
		return fmt.Errorf("%w: attempts %d outside budget %d", ErrValidation, n.Attempts, n.MaxAttempts)
	}

	limit := MaxContentLength(n.Channel)
	if contentLen := len([]rune(n.BodyTemplate)); contentLen > limit {
		return fmt.Errorf("%w: %s body exceeds %d characters (got %d)", ErrValidation, strings.ToLower(n.Channel.String()), limit, contentLen)
	}

	return nil
}

// MaxContentLength returns the body template limit for a channel.
func MaxContentLength(c Channel) int {
	switch c {
	case ChannelSMS:
		return MaxSMSContent
	case ChannelPush:
		return MaxPushContent
	case ChannelVoiceCall:
		return MaxVoiceCallContent
	case ChannelMessagingApp:
		return MaxMessagingAppContent
	default:
		return MaxEmailContent
	}
}

// ClaimActive reports whether a worker lease on the record is still valid at now.
func (n *Notification) ClaimActive(now time.Time) bool {
	return n.ClaimedUntil != nil && n.ClaimedUntil.After(now)
}

// IsEligible reports whether the scheduler may pick the record at now.
func (n *Notification) IsEligible(now time.Time, cooldown time.Duration) bool {
	if n.Status != StatusPending || n.ClaimActive(now) {
		return false
	}
	if n.Attempts == 0 {
		return true
	}
	return !now.Before(n.UpdatedAt.Add(cooldown))
}

// Cancel moves a pending record to CANCELLED without consuming an attempt.
func (n *Notification) Cancel(reason string, now time.Time) error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: state is %s", ErrNotPending, n.Status)
	}
	n.Status = StatusCancelled
	n.LastError = stringPtr(reason)
	n.UpdatedAt = now
	return nil
}

// StartAttempt consumes one attempt from the budget.
func (n *Notification) StartAttempt() error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: state is %s", ErrNotPending, n.Status)
	}
	if n.Attempts >= n.MaxAttempts {
		return fmt.Errorf("%w: attempt budget %d already spent", ErrValidation, n.MaxAttempts)
	}
	n.Attempts++
	return nil
}

// MarkSent records a successful attempt.
func (n *Notification) MarkSent(receipt string, now time.Time) {
	n.Status = StatusSent
	n.SentAt = &now
	n.ProviderReceipt = nil
	if strings.TrimSpace(receipt) != "" {
		n.ProviderReceipt = stringPtr(receipt)
	}
	n.LastError = nil
	n.UpdatedAt = now
}

// MarkAttemptFailed records a failed attempt. The record stays PENDING until
// the budget is spent, then becomes FAILED.
func (n *Notification) MarkAttemptFailed(reason string, now time.Time) {
	if n.Attempts >= n.MaxAttempts {
		n.Status = StatusFailed
	}
	n.LastError = stringPtr(reason)
	n.UpdatedAt = now
}

func stringPtr(s string) *string {
	return &s
}
