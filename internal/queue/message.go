package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/courier-notify/internal/domain"
)

// ShipmentEventMessage is the broker payload emitted by the back-office when
// something happens to a shipment.
type ShipmentEventMessage struct {
	EventID       string            `json:"eventId"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Kind          domain.Kind       `json:"kind"`
	ShipmentID    string            `json:"shipmentId"`
	Contacts      map[string]string `json:"contacts"`
}

func (m ShipmentEventMessage) Validate() error {
	_, err := m.ToDomain()
	return err
}

// ToDomain converts the payload into a validated domain event. Contact keys
// are channel names in any case; blank recipients are dropped.
func (m ShipmentEventMessage) ToDomain() (domain.ShipmentEvent, error) {
	kind, err := domain.ParseKindFromString(string(m.Kind))
	if err != nil {
		return domain.ShipmentEvent{}, err
	}

	contacts := make(map[domain.Channel]string, len(m.Contacts))
	for rawChannel, recipient := range m.Contacts {
		ch, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return domain.ShipmentEvent{}, fmt.Errorf("contacts: %w", err)
		}
		if recipient = strings.TrimSpace(recipient); recipient != "" {
			contacts[ch] = recipient
		}
	}

	event := domain.ShipmentEvent{
		EventID:    strings.TrimSpace(m.EventID),
		Kind:       kind,
		ShipmentID: strings.TrimSpace(m.ShipmentID),
		Contacts:   contacts,
	}
	if err := event.Validate(); err != nil {
		return domain.ShipmentEvent{}, err
	}
	return event, nil
}
