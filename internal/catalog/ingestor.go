// Package catalog applies bulk price, stock and metadata updates sent by
// merchant integrations.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

const (
	defaultChunkSize    = 500
	defaultMaxBatchSize = 50000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SyncResult reports a stock sync. Updated counts rows actually changed and
// is authoritative even when the sync fails part way.
type SyncResult struct {
	Received   int   `json:"received"`
	Normalized int   `json:"normalized"`
	Updated    int64 `json:"updated"`
}

// UpsertResult reports a catalog metadata upsert.
type UpsertResult struct {
	Received   int `json:"received"`
	Normalized int `json:"normalized"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
}

// Ingestor owns bulk catalog writes.
type Ingestor struct {
	repo      Repository
	tx        txRunner
	outbox    outboxEmitter
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
	chunkSize int
	maxBatch  int
	now       func() time.Time
}

type Option func(*Ingestor)

func WithChunkSize(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.chunkSize = n
		}
	}
}

func WithMaxBatchSize(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxBatch = n
		}
	}
}

func WithOutbox(o outboxEmitter) Option {
	return func(i *Ingestor) { i.outbox = o }
}

func WithLogger(l *logger.Logger) Option {
	return func(i *Ingestor) { i.logg = l }
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIngestor(repo Repository, tx txRunner, opts ...Option) (*Ingestor, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	i := &Ingestor{
		repo:      repo,
		tx:        tx,
		logg:      logger.Nop(),
		chunkSize: defaultChunkSize,
		maxBatch:  defaultMaxBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// SyncStock normalizes, dedupes and applies price/amount updates in chunks.
// Each chunk commits on its own; the first failing chunk stops the sync and
// the rows changed so far are reported with the error.
func (i *Ingestor) SyncStock(ctx context.Context, businessID uuid.UUID, entries []RawEntry) (*SyncResult, error) {
	result := &SyncResult{Received: len(entries)}
	if err := i.checkBatch(businessID, len(entries)); err != nil {
		return result, err
	}
	rows, problems := normalize(entries)
	if len(problems) > 0 {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "catalog batch contains malformed or negative numbers").
			WithDetails(map[string]any{"entries": problems})
	}
	rows = dedupe(rows)
	result.Normalized = len(rows)
	if err := i.ensureBusiness(ctx, businessID); err != nil {
		return result, err
	}

	logCtx := i.logg.WithBusinessID(ctx, businessID.String())
	i.metrics.AddCatalogRows("received", int64(result.Received))
	i.metrics.AddCatalogRows("normalized", int64(result.Normalized))

	at := i.now().UTC()
	for n, chunk := range chunks(rows, i.chunkSize) {
		var affected int64
		err := i.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			affected, err = i.repo.WithTx(tx).ApplyStock(ctx, businessID, chunk, at)
			return err
		})
		if err != nil {
			i.metrics.AddCatalogRows("updated", result.Updated)
			chunkCtx := i.logg.WithFields(logCtx, map[string]any{"chunk": n, "chunk_size": len(chunk), "updated": result.Updated})
			i.logg.Error(chunkCtx, "catalog sync chunk failed", err)
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply catalog chunk").
				WithDetails(map[string]any{
					"received":     result.Received,
					"normalized":   result.Normalized,
					"updated":      result.Updated,
					"failed_chunk": n,
				})
		}
		result.Updated += affected
	}
	i.metrics.AddCatalogRows("updated", result.Updated)

	if err := i.emitSynced(ctx, businessID, result); err != nil {
		i.logg.Error(logCtx, "queue catalog synced fact", err)
	}
	i.logg.Info(i.logg.WithFields(logCtx, map[string]any{
		"received":   result.Received,
		"normalized": result.Normalized,
		"updated":    result.Updated,
	}), "catalog stock synced")
	return result, nil
}

// UpsertCatalog creates or overwrites item metadata by code. A repeated code
// keeps its last occurrence.
func (i *Ingestor) UpsertCatalog(ctx context.Context, businessID uuid.UUID, entries []CatalogEntry) (*UpsertResult, error) {
	result := &UpsertResult{Received: len(entries)}
	if err := i.checkBatch(businessID, len(entries)); err != nil {
		return result, err
	}
	items, err := i.catalogItems(businessID, entries)
	if err != nil {
		return result, err
	}
	result.Normalized = len(items)
	if err := i.ensureBusiness(ctx, businessID); err != nil {
		return result, err
	}

	for n, chunk := range chunks(items, i.chunkSize) {
		codes := make([]string, 0, len(chunk))
		for _, item := range chunk {
			codes = append(codes, item.Code)
		}
		var existing map[string]struct{}
		err := i.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := i.repo.WithTx(tx)
			var err error
			if existing, err = repo.ExistingCodes(ctx, businessID, codes); err != nil {
				return err
			}
			return repo.UpsertItems(ctx, chunk)
		})
		if err != nil {
			code := pkgerrors.CodeDependency
			if db.IsUniqueViolation(err, "items_business_code_key") {
				code = pkgerrors.CodeConflict
			}
			return result, pkgerrors.Wrap(code, err, "upsert catalog chunk").
				WithDetails(map[string]any{
					"received":     result.Received,
					"normalized":   result.Normalized,
					"created":      result.Created,
					"updated":      result.Updated,
					"failed_chunk": n,
				})
		}
		result.Updated += len(existing)
		result.Created += len(chunk) - len(existing)
	}
	return result, nil
}

func (i *Ingestor) catalogItems(businessID uuid.UUID, entries []CatalogEntry) ([]models.Item, error) {
	now := i.now().UTC()
	byCode := make(map[string]int, len(entries))
	items := make([]models.Item, 0, len(entries))
	var problems []fieldError
	for n, e := range entries {
		code := trimCode(e.Code)
		if code == "" {
			continue
		}
		if e.Price.IsNegative() {
			problems = append(problems, fieldError{Index: n, Code: code, Field: "price", Value: e.Price.String()})
			continue
		}
		if e.Amount.IsNegative() {
			problems = append(problems, fieldError{Index: n, Code: code, Field: "amount", Value: e.Amount.String()})
			continue
		}
		amount := e.Amount.Round(amountPlaces)
		visible := amount.IsPositive()
		if e.Visible != nil {
			visible = *e.Visible
		}
		item := models.Item{
			BusinessID: businessID,
			Code:       code,
			Name:       e.Name,
			Price:      e.Price.Round(pricePlaces),
			Amount:     amount,
			Visible:    visible,
			Barcode:    e.Barcode,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if idx, ok := byCode[code]; ok {
			items[idx] = item
			continue
		}
		byCode[code] = len(items)
		items = append(items, item)
	}
	if len(problems) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "catalog batch contains invalid entries").
			WithDetails(map[string]any{"entries": problems})
	}
	return items, nil
}

func (i *Ingestor) checkBatch(businessID uuid.UUID, n int) error {
	if businessID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "catalog batch is empty")
	}
	if n > i.maxBatch {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "catalog batch exceeds %d entries", i.maxBatch)
	}
	return nil
}

func (i *Ingestor) ensureBusiness(ctx context.Context, businessID uuid.UUID) error {
	ok, err := i.repo.BusinessExists(ctx, businessID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load business")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "business not found")
	}
	return nil
}

func (i *Ingestor) emitSynced(ctx context.Context, businessID uuid.UUID, result *SyncResult) error {
	if i.outbox == nil {
		return nil
	}
	return i.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return i.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCatalogSynced,
			AggregateType: enums.AggregateCatalog,
			AggregateID:   businessID,
			Actor:         &outbox.ActorRef{BusinessID: &businessID},
			Data: outbox.CatalogSynced{
				BusinessID: businessID,
				Received:   result.Received,
				Normalized: result.Normalized,
				Updated:    result.Updated,
			},
		})
	})
}

func chunks[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = defaultChunkSize
	}
	out := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
