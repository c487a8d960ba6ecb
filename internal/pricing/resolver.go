package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// Resolution is the effective unit price of one item at one instant.
type Resolution struct {
	ItemID      uuid.UUID
	BasePrice   decimal.Decimal
	UnitPrice   decimal.Decimal
	Mechanism   enums.PromotionType
	PromotionID *uuid.UUID
	DetailID    *uuid.UUID
}

// Promoted reports whether a promotion detail set the price.
func (r Resolution) Promoted() bool {
	return r.DetailID != nil
}

// Resolver combines base item prices with active promotion details.
type Resolver struct {
	repo       Repository
	logg       *logger.Logger
	strategies map[enums.PromotionType]Strategy
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithStrategy replaces the mechanism used for a promotion type.
func WithStrategy(t enums.PromotionType, s Strategy) Option {
	return func(r *Resolver) {
		if s != nil {
			r.strategies[t] = s
		}
	}
}

// WithLogger attaches a logger for skipped promotion details.
func WithLogger(logg *logger.Logger) Option {
	return func(r *Resolver) {
		r.logg = logg
	}
}

func NewResolver(repo Repository, opts ...Option) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	r := &Resolver{repo: repo, strategies: defaultStrategies()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the unit price of every distinct item in itemIDs. When
// several details apply to one item the lowest resulting price wins, then the
// lowest detail id.
func (r *Resolver) Resolve(ctx context.Context, businessID uuid.UUID, itemIDs []uuid.UUID, now time.Time) (map[uuid.UUID]Resolution, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	ids := distinct(itemIDs)
	out := make(map[uuid.UUID]Resolution, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var (
		items   []models.Item
		details []models.PromotionDetail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = r.repo.ListItems(gctx, businessID, ids)
		return err
	})
	g.Go(func() error {
		var err error
		details, err = r.repo.ListActiveDetails(gctx, businessID, ids, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing inputs")
	}

	for _, item := range items {
		out[item.ID] = Resolution{ItemID: item.ID, BasePrice: item.Price, UnitPrice: item.Price}
	}
	if missing := missingIDs(ids, out); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found for business").
			WithDetails(map[string]any{"item_ids": missing})
	}

	for _, detail := range details {
		current, ok := out[detail.ItemID]
		if !ok {
			continue
		}
		strategy, ok := r.strategies[detail.Type]
		if !ok {
			r.warn(ctx, detail, fmt.Errorf("no strategy for type %q", detail.Type))
			continue
		}
		price, err := strategy.UnitPrice(current.BasePrice, detail)
		if err != nil {
			r.warn(ctx, detail, err)
			continue
		}
		if better(price, detail.ID, current) {
			detailID, promotionID := detail.ID, detail.PromotionID
			current.UnitPrice = price
			current.Mechanism = detail.Type
			current.DetailID = &detailID
			current.PromotionID = &promotionID
			out[detail.ItemID] = current
		}
	}
	return out, nil
}

func better(price decimal.Decimal, detailID uuid.UUID, current Resolution) bool {
	if !current.Promoted() {
		return true
	}
	if cmp := price.Cmp(current.UnitPrice); cmp != 0 {
		return cmp < 0
	}
	return detailID.String() < current.DetailID.String()
}

func (r *Resolver) warn(ctx context.Context, detail models.PromotionDetail, err error) {
	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"promotion_id":        detail.PromotionID.String(),
		"promotion_detail_id": detail.ID.String(),
		"item_id":             detail.ItemID.String(),
		"error":               err.Error(),
	})
	r.logg.Warn(logCtx, "skipping invalid promotion detail")
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(ids []uuid.UUID, found map[uuid.UUID]Resolution) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	return missing
}
