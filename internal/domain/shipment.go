package domain

import "github.com/shopspring/decimal"

// Shipment is the read-only view of a shipment used to fill message placeholders.
type Shipment struct {
	ID            string
	GuideNumber   string
	RecipientName string
	Status        string
	Address       string
	Phone         string
	TotalAmount   decimal.Decimal
	Weight        decimal.Decimal
	Description   string
}
