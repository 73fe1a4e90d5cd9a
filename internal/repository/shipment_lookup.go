package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/template"
	"gorm.io/gorm"
)

// VariableResolver returns the placeholder values of a related entity.
// A missing entity is reported as domain.ErrNotFound.
type VariableResolver interface {
	Resolve(ctx context.Context, entityRef string) (map[string]string, error)
}

// GormShipmentLookup resolves placeholder values from the shipments table.
type GormShipmentLookup struct {
	db *gorm.DB
}

func NewGormShipmentLookup(db *gorm.DB) *GormShipmentLookup {
	return &GormShipmentLookup{db: db}
}

func (l *GormShipmentLookup) Resolve(ctx context.Context, entityRef string) (map[string]string, error) {
	var model ShipmentModel
	err := l.db.WithContext(ctx).First(&model, "id = ?", entityRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeError("load shipment", err)
	}
	return template.ShipmentVariables(shipmentModelToDomain(&model)), nil
}
