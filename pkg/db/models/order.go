package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

// Order is created upstream at cart submission. Its status is never stored
// here; see OrderStatusEvent.
type Order struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID        uuid.UUID          `gorm:"column:business_id;type:uuid;not null"`
	CustomerID        uuid.UUID          `gorm:"column:customer_id;type:uuid;not null"`
	DeliveryType      enums.DeliveryType `gorm:"column:delivery_type;type:text;not null;default:'courier'"`
	DeliveryDate      *time.Time         `gorm:"column:delivery_date"`
	AddressID         *uuid.UUID         `gorm:"column:address_id;type:uuid"`
	DeliveryPrice     decimal.Decimal    `gorm:"column:delivery_price;type:numeric(14,2);not null"`
	BonusUsed         decimal.Decimal    `gorm:"column:bonus_used;type:numeric(14,2);not null"`
	PaymentHoldRef    *string            `gorm:"column:payment_hold_ref"`
	PaymentHoldAmount *decimal.Decimal   `gorm:"column:payment_hold_amount;type:numeric(14,2)"`
	Extra             types.JSONMap      `gorm:"column:extra;type:jsonb"`
	Items             []OrderLineItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// HasPaymentHold reports whether an upstream authorization left a hold to capture.
func (o Order) HasPaymentHold() bool {
	return o.PaymentHoldRef != nil && *o.PaymentHoldRef != ""
}
