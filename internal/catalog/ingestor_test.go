package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

var syncTime = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	conn     *gorm.DB
	business *models.Business
}

func newFixture(t *testing.T, codes ...string) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	business := &models.Business{Name: "corner shop"}
	dbtest.Seed(t, conn, business)
	for _, code := range codes {
		dbtest.Seed(t, conn, &models.Item{
			BusinessID: business.ID,
			Code:       code,
			Name:       "item " + code,
			Price:      decimal.NewFromInt(1),
			Amount:     decimal.NewFromInt(1),
			Visible:    true,
		})
	}
	return fixture{conn: conn, business: business}
}

func (f fixture) ingestor(t *testing.T, repo Repository, opts ...Option) *Ingestor {
	t.Helper()
	if repo == nil {
		repo = NewRepository(f.conn)
	}
	opts = append([]Option{WithClock(func() time.Time { return syncTime })}, opts...)
	ing, err := NewIngestor(repo, db.Wrap(f.conn), opts...)
	require.NoError(t, err)
	return ing
}

func (f fixture) item(t *testing.T, code string) models.Item {
	t.Helper()
	var item models.Item
	require.NoError(t, f.conn.Where("business_id = ? AND code = ?", f.business.ID, code).Take(&item).Error)
	return item
}

func decodeEntries(t *testing.T, payload string) []RawEntry {
	t.Helper()
	var entries []RawEntry
	require.NoError(t, json.Unmarshal([]byte(payload), &entries))
	return entries
}

func TestSyncStockKeepsLastDuplicate(t *testing.T) {
	f := newFixture(t, "A")
	entries := decodeEntries(t, `[{"code":"A","price":10,"amount":5},{"code":"A","price":12,"amount":3}]`)

	res, err := f.ingestor(t, nil).SyncStock(context.Background(), f.business.ID, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 1, res.Normalized)
	assert.EqualValues(t, 1, res.Updated)

	item := f.item(t, "A")
	assert.True(t, item.Price.Equal(decimal.NewFromInt(12)), "price %s", item.Price)
	assert.True(t, item.Amount.Equal(decimal.NewFromInt(3)), "amount %s", item.Amount)
	assert.True(t, item.Visible)
}

func TestSyncStockRejectsMalformedNumberBeforeWriting(t *testing.T) {
	f := newFixture(t, "A", "B")
	entries := decodeEntries(t, `[{"code":"A","price":99},{"code":"B","price":"abc"}]`)

	res, err := f.ingestor(t, nil).SyncStock(context.Background(), f.business.ID, entries)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	assert.EqualValues(t, 0, res.Updated)
	assert.True(t, f.item(t, "A").Price.Equal(decimal.NewFromInt(1)), "no row may change")
}

func TestSyncStockRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t, "A", "B")
	entries := decodeEntries(t, `[{"code":"B","amount":4},{"code":"A","price":10,"amount":-5}]`)

	res, err := f.ingestor(t, nil).SyncStock(context.Background(), f.business.ID, entries)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	assert.EqualValues(t, 0, res.Updated)
	assert.True(t, f.item(t, "A").Amount.Equal(decimal.NewFromInt(1)), "amount %s", f.item(t, "A").Amount)
	assert.True(t, f.item(t, "B").Amount.Equal(decimal.NewFromInt(1)), "no row may change")
}

func TestUpsertCatalogRejectsNegativeAmount(t *testing.T) {
	f := newFixture(t)
	entries := []CatalogEntry{
		{Code: "A", Name: "Apples", Price: decimal.NewFromInt(3), Amount: decimal.NewFromInt(-1)},
	}

	_, err := f.ingestor(t, nil).UpsertCatalog(context.Background(), f.business.ID, entries)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	var count int64
	require.NoError(t, f.conn.Model(&models.Item{}).Where("business_id = ?", f.business.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSyncStockAcceptsAliasesAndDecimalComma(t *testing.T) {
	f := newFixture(t, "A", "7001")
	entries := decodeEntries(t, `[
		{"code":"  A ","Cena":"12,50","Kol":"0"},
		{"code":7001,"price":" 3.999 "},
		{"code":"","price":1},
		{"price":1}
	]`)

	res, err := f.ingestor(t, nil).SyncStock(context.Background(), f.business.ID, entries)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 2, res.Normalized)
	assert.EqualValues(t, 2, res.Updated)

	a := f.item(t, "A")
	assert.Equal(t, "12.50", a.Price.StringFixed(2))
	assert.True(t, a.Amount.IsZero())
	assert.False(t, a.Visible, "zero stock hides the item")

	numeric := f.item(t, "7001")
	assert.Equal(t, "4.00", numeric.Price.StringFixed(2))
	assert.True(t, numeric.Amount.Equal(decimal.NewFromInt(1)), "missing amount keeps stored value")
}

func TestSyncStockIgnoresUnknownCodesAndOtherBusinesses(t *testing.T) {
	f := newFixture(t, "A")
	other := &models.Business{Name: "other"}
	dbtest.Seed(t, f.conn, other, &models.Item{BusinessID: other.ID, Code: "A", Price: decimal.NewFromInt(5), Amount: decimal.NewFromInt(5)})

	entries := decodeEntries(t, `[{"code":"A","price":2},{"code":"missing","price":3}]`)
	res, err := f.ingestor(t, nil).SyncStock(context.Background(), f.business.ID, entries)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Updated)

	var foreign models.Item
	require.NoError(t, f.conn.Where("business_id = ? AND code = ?", other.ID, "A").Take(&foreign).Error)
	assert.True(t, foreign.Price.Equal(decimal.NewFromInt(5)))
}

func TestSyncStockValidatesBatch(t *testing.T) {
	f := newFixture(t)
	ing := f.ingestor(t, nil, WithMaxBatchSize(2))

	_, err := ing.SyncStock(context.Background(), f.business.ID, nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ing.SyncStock(context.Background(), f.business.ID, decodeEntries(t, `[{"code":"a"},{"code":"b"},{"code":"c"}]`))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ing.SyncStock(context.Background(), uuid.New(), decodeEntries(t, `[{"code":"a"}]`))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestSyncStockChunksAndEmitsFact(t *testing.T) {
	codes := []string{"c1", "c2", "c3", "c4", "c5"}
	f := newFixture(t, codes...)
	repo := &countingRepository{Repository: NewRepository(f.conn)}
	emitter := outbox.NewService(outbox.NewRepository(f.conn), logger.Nop())

	payload := "["
	for i, code := range codes {
		if i > 0 {
			payload += ","
		}
		payload += fmt.Sprintf(`{"code":%q,"price":%d,"amount":2}`, code, i+10)
	}
	payload += "]"

	res, err := f.ingestor(t, repo, WithChunkSize(2), WithOutbox(emitter)).
		SyncStock(context.Background(), f.business.ID, decodeEntries(t, payload))
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Updated)
	assert.Equal(t, []int{2, 2, 1}, repo.chunkSizes)
	assert.True(t, f.item(t, "c5").Price.Equal(decimal.NewFromInt(14)))

	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventCatalogSynced, rows[0].EventType)
}

func TestSyncStockStopsAtFailingChunkAndKeepsEarlierOnes(t *testing.T) {
	f := newFixture(t, "c1", "c2", "c3", "c4")
	repo := &countingRepository{Repository: NewRepository(f.conn), failOn: 2}

	entries := decodeEntries(t, `[{"code":"c1","price":7},{"code":"c2","price":7},{"code":"c3","price":7},{"code":"c4","price":7}]`)
	res, err := f.ingestor(t, repo, WithChunkSize(2)).SyncStock(context.Background(), f.business.ID, entries)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	assert.EqualValues(t, 2, res.Updated)

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, details["failed_chunk"])

	assert.True(t, f.item(t, "c2").Price.Equal(decimal.NewFromInt(7)), "first chunk stays applied")
	assert.True(t, f.item(t, "c3").Price.Equal(decimal.NewFromInt(1)), "failed chunk is rolled back")
}

func TestUpsertCatalogCreatesAndUpdates(t *testing.T) {
	f := newFixture(t, "A")
	hidden := false
	barcode := "5901234123457"
	entries := []CatalogEntry{
		{Code: "A", Name: "Apples", Price: decimal.RequireFromString("3.5"), Amount: decimal.NewFromInt(10), Visible: &hidden},
		{Code: "B", Name: "Bread", Price: decimal.NewFromInt(2), Amount: decimal.NewFromInt(4), Barcode: &barcode},
		{Code: "B", Name: "Bread (rye)", Price: decimal.NewFromInt(3), Amount: decimal.NewFromInt(4)},
		{Code: " ", Name: "blank"},
	}

	res, err := f.ingestor(t, nil).UpsertCatalog(context.Background(), f.business.ID, entries)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Received: 4, Normalized: 2, Created: 1, Updated: 1}, *res)

	a := f.item(t, "A")
	assert.Equal(t, "Apples", a.Name)
	assert.False(t, a.Visible, "explicit false is written")

	b := f.item(t, "B")
	assert.Equal(t, "Bread (rye)", b.Name)
	assert.Nil(t, b.Barcode)

	var count int64
	require.NoError(t, f.conn.Model(&models.Item{}).Where("business_id = ?", f.business.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

type countingRepository struct {
	Repository
	failOn     int
	chunkSizes []int
}

func (c *countingRepository) WithTx(tx *gorm.DB) Repository {
	return &txCountingRepository{Repository: c.Repository.WithTx(tx), parent: c}
}

type txCountingRepository struct {
	Repository
	parent *countingRepository
}

func (r *txCountingRepository) ApplyStock(ctx context.Context, businessID uuid.UUID, rows []StockRow, at time.Time) (int64, error) {
	r.parent.chunkSizes = append(r.parent.chunkSizes, len(rows))
	n, err := r.Repository.ApplyStock(ctx, businessID, rows, at)
	if err == nil && len(r.parent.chunkSizes) == r.parent.failOn {
		return 0, errors.New("statement timeout")
	}
	return n, err
}
