package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// Repository applies catalog writes for one business.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	BusinessExists(ctx context.Context, businessID uuid.UUID) (bool, error)
	ApplyStock(ctx context.Context, businessID uuid.UUID, rows []StockRow, at time.Time) (int64, error)
	ExistingCodes(ctx context.Context, businessID uuid.UUID, codes []string) (map[string]struct{}, error)
	UpsertItems(ctx context.Context, items []models.Item) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) BusinessExists(ctx context.Context, businessID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Business{}).
		Where("id = ?", businessID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ApplyStock joins rows as a literal value list against the business catalog
// and updates every match in one statement.
func (r *repository) ApplyStock(ctx context.Context, businessID uuid.UUID, rows []StockRow, at time.Time) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var b strings.Builder
	args := make([]any, 0, len(rows)*3+2)
	b.WriteString("WITH v(code, price, amount) AS (VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(CAST(? AS TEXT), CAST(? AS NUMERIC), CAST(? AS NUMERIC))")
		args = append(args, row.Code, optional(row.Price), optional(row.Amount))
	}
	b.WriteString(`) UPDATE items SET
		price = COALESCE(v.price, items.price),
		amount = COALESCE(v.amount, items.amount),
		visible = (COALESCE(v.amount, items.amount) > 0),
		updated_at = ?
	FROM v
	WHERE items.business_id = ? AND items.code = v.code`)
	args = append(args, at, businessID)

	res := r.db.WithContext(ctx).Exec(b.String(), args...)
	return res.RowsAffected, res.Error
}

func (r *repository) ExistingCodes(ctx context.Context, businessID uuid.UUID, codes []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	var found []string
	if err := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("business_id = ? AND code IN ?", businessID, codes).
		Pluck("code", &found).Error; err != nil {
		return nil, err
	}
	for _, code := range found {
		out[code] = struct{}{}
	}
	return out, nil
}

// UpsertItems inserts new codes and overwrites metadata of existing ones.
// Columns are selected explicitly so false and zero values are written.
func (r *repository) UpsertItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Select("id", "business_id", "code", "name", "price", "amount", "visible", "barcode", "created_at", "updated_at").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "price", "amount", "visible", "barcode", "updated_at"}),
		}).
		Create(&items).Error
}

func optional(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
