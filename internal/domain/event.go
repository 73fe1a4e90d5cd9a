package domain

import (
	"fmt"
	"strings"
)

// ShipmentEvent is emitted by the back-office when something happens to a shipment.
// Contacts maps each channel to the address the customer registered for it.
type ShipmentEvent struct {
	EventID    string
	Kind       Kind
	ShipmentID string
	Contacts   map[Channel]string
}

func (e ShipmentEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, e.Kind)
	}
	if strings.TrimSpace(e.ShipmentID) == "" {
		return fmt.Errorf("%w: shipment id is required", ErrValidation)
	}
	for ch := range e.Contacts {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid contact channel %q", ErrValidation, ch)
		}
	}
	return nil
}
