package costs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/pricing"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

var fixedNow = time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)

type fixture struct {
	conn     *gorm.DB
	repo     orders.Repository
	resolver *pricing.Resolver
	order    *models.Order
	item     *models.Item
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	businessID := uuid.New()
	item := &models.Item{BusinessID: businessID, Code: "A", Price: decimal.NewFromInt(500), Amount: decimal.NewFromInt(10)}
	order := &models.Order{
		BusinessID:    businessID,
		CustomerID:    uuid.New(),
		DeliveryPrice: decimal.NewFromInt(300),
		BonusUsed:     decimal.Zero,
	}
	dbtest.Seed(t, conn, item, order, &models.OrderLineItem{
		OrderID:   order.ID,
		ItemID:    item.ID,
		Quantity:  decimal.NewFromInt(2),
		UnitPrice: decimal.NewFromInt(500),
	})
	resolver, err := pricing.NewResolver(pricing.NewRepository(conn))
	require.NoError(t, err)
	return fixture{conn: conn, repo: orders.NewRepository(conn), resolver: resolver, order: order, item: item}
}

func (f fixture) aggregator(t *testing.T, repo orders.Repository, opts ...Option) *Aggregator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	agg, err := NewAggregator(repo, f.resolver, opts...)
	require.NoError(t, err)
	return agg
}

func TestRecomputeComputesFinalAmount(t *testing.T) {
	f := newFixture(t)
	agg := f.aggregator(t, f.repo, WithServiceFee(decimal.NewFromInt(50)))

	res, err := agg.Recompute(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.Subtotal.StringFixed(2))
	assert.Equal(t, "1350.00", res.FinalAmount.StringFixed(2))
	assert.True(t, res.Capturable)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, "1000.00", res.Lines[0].Total.StringFixed(2))

	stored, err := f.repo.FindCost(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Subtotal.Equal(decimal.NewFromInt(1000)))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	agg := f.aggregator(t, f.repo)
	ctx := context.Background()

	first, err := agg.Recompute(ctx, f.order.ID)
	require.NoError(t, err)
	second, err := agg.Recompute(ctx, f.order.ID)
	require.NoError(t, err)
	assert.True(t, first.Subtotal.Equal(second.Subtotal))
	assert.True(t, first.FinalAmount.Equal(second.FinalAmount))
	assert.EqualValues(t, 2, second.Version)

	var count int64
	require.NoError(t, f.conn.Model(&models.OrderCost{}).Where("order_id = ?", f.order.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecomputeUsesLivePromotion(t *testing.T) {
	f := newFixture(t)
	discount := decimal.NewFromInt(25)
	dbtest.Seed(t, f.conn, &models.Promotion{
		BusinessID: f.order.BusinessID,
		Visible:    true,
		StartAt:    fixedNow.Add(-time.Hour),
		EndAt:      fixedNow.Add(time.Hour),
		Name:       "weekday",
		Details: []models.PromotionDetail{
			{ItemID: f.item.ID, Type: enums.PromotionTypePercent, Discount: &discount},
		},
	})

	res, err := f.aggregator(t, f.repo).Recompute(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, "750.00", res.Subtotal.StringFixed(2))
	assert.True(t, res.Lines[0].Promoted)
}

func TestRecomputeNonPositiveFinalIsNotCapturable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", f.order.ID).
		Update("bonus_used", decimal.NewFromInt(1300)).Error)

	res, err := f.aggregator(t, f.repo).Recompute(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.True(t, res.FinalAmount.IsZero(), "got %s", res.FinalAmount)
	assert.False(t, res.Capturable)
}

func TestRecomputeUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.aggregator(t, f.repo).Recompute(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

// racingRepository loses the first n swaps, as if another recompute landed in between.
type racingRepository struct {
	orders.Repository
	lose  int
	calls int
}

func (r *racingRepository) SwapSubtotal(ctx context.Context, orderID uuid.UUID, version int64, subtotal decimal.Decimal) (bool, error) {
	r.calls++
	if r.calls <= r.lose {
		return false, nil
	}
	return r.Repository.SwapSubtotal(ctx, orderID, version, subtotal)
}

func TestRecomputeRetriesCompareAndSwapMiss(t *testing.T) {
	f := newFixture(t)
	repo := &racingRepository{Repository: f.repo, lose: 2}

	res, err := f.aggregator(t, repo, WithRetries(3)).Recompute(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, "1000.00", res.Subtotal.StringFixed(2))
}

func TestRecomputeGivesUpWithConflict(t *testing.T) {
	f := newFixture(t)
	repo := &racingRepository{Repository: f.repo, lose: 100}

	_, err := f.aggregator(t, repo, WithRetries(2)).Recompute(context.Background(), f.order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Equal(t, 3, repo.calls)
	assert.True(t, pkgerrors.Retryable(err))
}

func TestFinalAmount(t *testing.T) {
	got := FinalAmount(decimal.NewFromInt(1000), decimal.NewFromInt(300), decimal.NewFromInt(50), decimal.NewFromInt(100))
	assert.Equal(t, "1250.00", got.StringFixed(2))
}
