package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

// Repository defines persistence operations for orders and their cost rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error)
	FindCost(ctx context.Context, orderID uuid.UUID) (*models.OrderCost, error)
	EnsureCost(ctx context.Context, orderID uuid.UUID, serviceFee decimal.Decimal) (*models.OrderCost, error)
	SwapSubtotal(ctx context.Context, orderID uuid.UUID, expectedVersion int64, subtotal decimal.Decimal) (bool, error)
	UpdateExtra(ctx context.Context, orderID uuid.UUID, extra types.JSONMap) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderForUpdate row-locks the order for the rest of the transaction.
func (r *repository) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindCost(ctx context.Context, orderID uuid.UUID) (*models.OrderCost, error) {
	var cost models.OrderCost
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&cost).Error; err != nil {
		return nil, err
	}
	return &cost, nil
}

// EnsureCost returns the live cost row, creating it with a zero subtotal if
// the order has none yet. Concurrent creators converge on one row.
func (r *repository) EnsureCost(ctx context.Context, orderID uuid.UUID, serviceFee decimal.Decimal) (*models.OrderCost, error) {
	row := models.OrderCost{
		OrderID:    orderID,
		Subtotal:   decimal.Zero,
		ServiceFee: serviceFee,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&row).Error; err != nil {
		return nil, err
	}
	return r.FindCost(ctx, orderID)
}

// SwapSubtotal overwrites the subtotal only if the row is still at
// expectedVersion, bumping the version on success.
func (r *repository) SwapSubtotal(ctx context.Context, orderID uuid.UUID, expectedVersion int64, subtotal decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderCost{}).
		Where("order_id = ? AND version = ?", orderID, expectedVersion).
		Updates(map[string]any{
			"subtotal":   subtotal,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateExtra(ctx context.Context, orderID uuid.UUID, extra types.JSONMap) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"extra":      extra,
			"updated_at": time.Now().UTC(),
		}).Error
}
