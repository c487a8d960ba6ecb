package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderCost is the single live cost row per order. Version guards
// compare-and-swap overwrites of Subtotal.
type OrderCost struct {
	OrderID    uuid.UUID       `gorm:"column:order_id;type:uuid;primaryKey"`
	Subtotal   decimal.Decimal `gorm:"column:subtotal;type:numeric(14,2);not null"`
	ServiceFee decimal.Decimal `gorm:"column:service_fee;type:numeric(14,2);not null"`
	Version    int64           `gorm:"column:version;not null;default:0"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
