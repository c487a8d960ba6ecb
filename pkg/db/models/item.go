package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is a catalog entry, unique per (business_id, code).
type Item struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID uuid.UUID       `gorm:"column:business_id;type:uuid;not null;uniqueIndex:items_business_code_key"`
	Code       string          `gorm:"column:code;not null;uniqueIndex:items_business_code_key"`
	Name       string          `gorm:"column:name;not null;default:''"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(14,3);not null"`
	Visible    bool            `gorm:"column:visible;not null;default:true"`
	Barcode    *string         `gorm:"column:barcode"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Item) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
