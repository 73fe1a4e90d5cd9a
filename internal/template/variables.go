package template

import "github.com/kursadbilgin/courier-notify/internal/domain"

// Placeholder names filled from a shipment.
const (
	VarGuideNumber   = "guide_number"
	VarRecipientName = "recipient_name"
	VarStatus        = "status"
	VarAddress       = "address"
	VarPhone         = "phone"
	VarTotal         = "total"
	VarWeight        = "weight"
	VarDescription   = "description"
)

// ShipmentVariables builds the placeholder values for s. The total amount is
// always rendered with two decimals.
func ShipmentVariables(s domain.Shipment) map[string]string {
	return map[string]string{
		VarGuideNumber:   s.GuideNumber,
		VarRecipientName: s.RecipientName,
		VarStatus:        s.Status,
		VarAddress:       s.Address,
		VarPhone:         s.Phone,
		VarTotal:         s.TotalAmount.StringFixed(2),
		VarWeight:        s.Weight.String(),
		VarDescription:   s.Description,
	}
}
