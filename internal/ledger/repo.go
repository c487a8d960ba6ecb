package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// currentInStatusSQL picks orders whose latest event has the given status and
// was recorded inside [after, before).
const currentInStatusSQL = `
SELECT e.order_id
FROM order_status_events e
WHERE e.status = ?
  AND e.created_at >= ?
  AND e.created_at < ?
  AND NOT EXISTS (
    SELECT 1 FROM order_status_events n
    WHERE n.order_id = e.order_id
      AND (n.created_at > e.created_at OR (n.created_at = e.created_at AND n.id > e.id))
  )
ORDER BY e.created_at ASC, e.id ASC
LIMIT ?`

// Repository manages persistence for order status events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	OrderBusinessID(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error)
	Create(ctx context.Context, event *models.OrderStatusEvent) error
	Current(ctx context.Context, orderID uuid.UUID) (*models.OrderStatusEvent, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
	ListCurrentInStatus(ctx context.Context, status enums.OrderStatus, after, before time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// OrderBusinessID returns the owning business, or gorm.ErrRecordNotFound.
func (r *repository) OrderBusinessID(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Select("id", "business_id").
		Where("id = ?", orderID).
		Take(&order).Error; err != nil {
		return uuid.Nil, err
	}
	return order.BusinessID, nil
}

func (r *repository) Create(ctx context.Context, event *models.OrderStatusEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// Current returns the latest event by created_at, the id breaking ties.
func (r *repository) Current(ctx context.Context, orderID uuid.UUID) (*models.OrderStatusEvent, error) {
	var event models.OrderStatusEvent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error) {
	var events []models.OrderStatusEvent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListCurrentInStatus(ctx context.Context, status enums.OrderStatus, after, before time.Time, limit int) ([]uuid.UUID, error) {
	var rows []struct {
		OrderID uuid.UUID
	}
	if err := r.db.WithContext(ctx).
		Raw(currentInStatusSQL, int(status), after, before, limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OrderID)
	}
	return ids, nil
}
