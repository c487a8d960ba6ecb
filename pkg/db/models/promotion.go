package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Promotion is a time-windowed campaign. Name is customer facing,
// InternalName is what the merchant sees in their back office.
type Promotion struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID   uuid.UUID         `gorm:"column:business_id;type:uuid;not null"`
	Visible      bool              `gorm:"column:visible;not null;default:false"`
	StartAt      time.Time         `gorm:"column:start_at;not null"`
	EndAt        time.Time         `gorm:"column:end_at;not null"`
	Name         string            `gorm:"column:name;not null"`
	InternalName string            `gorm:"column:internal_name;not null;default:''"`
	Details      []PromotionDetail `gorm:"foreignKey:PromotionID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (p *Promotion) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ActiveAt reports whether the promotion applies at t. Both window bounds are inclusive.
func (p Promotion) ActiveAt(t time.Time) bool {
	return p.Visible && !t.Before(p.StartAt) && !t.After(p.EndAt)
}

// PromotionDetail attaches one discount mechanism to one item. Only the
// parameters of its own Type are set.
type PromotionDetail struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	PromotionID uuid.UUID           `gorm:"column:promotion_id;type:uuid;not null"`
	ItemID      uuid.UUID           `gorm:"column:item_id;type:uuid;not null"`
	Type        enums.PromotionType `gorm:"column:type;type:text;not null"`
	Discount    *decimal.Decimal    `gorm:"column:discount;type:numeric(5,2)"`
	BaseAmount  *decimal.Decimal    `gorm:"column:base_amount;type:numeric(14,3)"`
	AddAmount   *decimal.Decimal    `gorm:"column:add_amount;type:numeric(14,3)"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (d *PromotionDetail) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
