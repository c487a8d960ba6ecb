package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// Repository reads the catalog and promotion state pricing depends on.
type Repository interface {
	ListItems(ctx context.Context, businessID uuid.UUID, itemIDs []uuid.UUID) ([]models.Item, error)
	ListActiveDetails(ctx context.Context, businessID uuid.UUID, itemIDs []uuid.UUID, now time.Time) ([]models.PromotionDetail, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pricing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListItems(ctx context.Context, businessID uuid.UUID, itemIDs []uuid.UUID) ([]models.Item, error) {
	var items []models.Item
	if len(itemIDs) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessID, itemIDs).
		Find(&items).Error
	return items, err
}

// ListActiveDetails returns details of visible promotions whose window
// contains now. Both bounds are inclusive.
func (r *repository) ListActiveDetails(ctx context.Context, businessID uuid.UUID, itemIDs []uuid.UUID, now time.Time) ([]models.PromotionDetail, error) {
	var details []models.PromotionDetail
	if len(itemIDs) == 0 {
		return details, nil
	}
	err := r.db.WithContext(ctx).
		Table("promotion_details").
		Select("promotion_details.*").
		Joins("JOIN promotions ON promotions.id = promotion_details.promotion_id").
		Where("promotions.business_id = ?", businessID).
		Where("promotions.visible = ?", true).
		Where("promotions.start_at <= ? AND promotions.end_at >= ?", now, now).
		Where("promotion_details.item_id IN ?", itemIDs).
		Order("promotion_details.id ASC").
		Find(&details).Error
	return details, err
}
