// Package costs recomputes an order's payable total from live prices.
package costs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/pricing"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const (
	moneyPlaces    = 2
	defaultRetries = 3
)

// Pricer resolves effective unit prices.
type Pricer interface {
	Resolve(ctx context.Context, businessID uuid.UUID, itemIDs []uuid.UUID, now time.Time) (map[uuid.UUID]pricing.Resolution, error)
}

// Line is one repriced order line.
type Line struct {
	LineItemID uuid.UUID
	ItemID     uuid.UUID
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	Total      decimal.Decimal
	Promoted   bool
}

// Result is the outcome of a recompute. Capturable is FinalAmount > 0.
type Result struct {
	OrderID       uuid.UUID
	BusinessID    uuid.UUID
	Subtotal      decimal.Decimal
	ServiceFee    decimal.Decimal
	DeliveryPrice decimal.Decimal
	BonusUsed     decimal.Decimal
	FinalAmount   decimal.Decimal
	Capturable    bool
	Version       int64
	Lines         []Line
}

// Aggregator owns the subtotal written to order_costs.
type Aggregator struct {
	repo       orders.Repository
	pricer     Pricer
	serviceFee decimal.Decimal
	retries    int
	now        func() time.Time
	logg       *logger.Logger
}

type Option func(*Aggregator)

// WithServiceFee sets the fee stored on cost rows created by a recompute.
func WithServiceFee(fee decimal.Decimal) Option {
	return func(a *Aggregator) { a.serviceFee = fee }
}

// WithRetries bounds how many compare-and-swap misses are retried.
func WithRetries(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.retries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(a *Aggregator) { a.logg = l }
}

func NewAggregator(repo orders.Repository, pricer Pricer, opts ...Option) (*Aggregator, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if pricer == nil {
		return nil, fmt.Errorf("pricer required")
	}
	a := &Aggregator{
		repo:       repo,
		pricer:     pricer,
		serviceFee: decimal.Zero,
		retries:    defaultRetries,
		now:        time.Now,
		logg:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Recompute reprices every line from the live catalog and overwrites the
// cost row subtotal. The write only lands if no other recompute moved the row
// since it was read; a miss reprices and tries again.
func (a *Aggregator) Recompute(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := a.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	lineItems, err := a.repo.ListLineItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}

	logCtx := a.logg.WithOrderID(ctx, orderID.String())
	for attempt := 0; attempt <= a.retries; attempt++ {
		cost, err := a.repo.EnsureCost(ctx, orderID, a.serviceFee)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order cost")
		}
		lines, subtotal, err := a.price(ctx, order, lineItems)
		if err != nil {
			return nil, err
		}
		swapped, err := a.repo.SwapSubtotal(ctx, orderID, cost.Version, subtotal)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write order subtotal")
		}
		if swapped {
			return buildResult(order, cost, subtotal, lines), nil
		}
		a.logg.Warn(a.logg.WithField(logCtx, "attempt", attempt+1), "order cost changed during recompute, retrying")
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "order cost kept changing after %d attempts", a.retries+1)
}

func (a *Aggregator) price(ctx context.Context, order *models.Order, lineItems []models.OrderLineItem) ([]Line, decimal.Decimal, error) {
	ids := make([]uuid.UUID, 0, len(lineItems))
	for _, li := range lineItems {
		ids = append(ids, li.ItemID)
	}
	prices, err := a.pricer.Resolve(ctx, order.BusinessID, ids, a.now().UTC())
	if err != nil {
		return nil, decimal.Zero, err
	}
	subtotal := decimal.Zero
	lines := make([]Line, 0, len(lineItems))
	for _, li := range lineItems {
		res, ok := prices[li.ItemID]
		if !ok {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "item not found for business").
				WithDetails(map[string]any{"item_ids": []string{li.ItemID.String()}})
		}
		total := res.UnitPrice.Mul(li.Quantity).Round(moneyPlaces)
		subtotal = subtotal.Add(total)
		lines = append(lines, Line{
			LineItemID: li.ID,
			ItemID:     li.ItemID,
			Quantity:   li.Quantity,
			UnitPrice:  res.UnitPrice,
			Total:      total,
			Promoted:   res.Promoted(),
		})
	}
	return lines, subtotal, nil
}

func buildResult(order *models.Order, cost *models.OrderCost, subtotal decimal.Decimal, lines []Line) *Result {
	final := FinalAmount(subtotal, order.DeliveryPrice, cost.ServiceFee, order.BonusUsed)
	return &Result{
		OrderID:       order.ID,
		BusinessID:    order.BusinessID,
		Subtotal:      subtotal,
		ServiceFee:    cost.ServiceFee,
		DeliveryPrice: order.DeliveryPrice,
		BonusUsed:     order.BonusUsed,
		FinalAmount:   final,
		Capturable:    final.IsPositive(),
		Version:       cost.Version + 1,
		Lines:         lines,
	}
}

// FinalAmount is subtotal + delivery + service fee - bonus.
func FinalAmount(subtotal, delivery, serviceFee, bonus decimal.Decimal) decimal.Decimal {
	return subtotal.Add(delivery).Add(serviceFee).Sub(bonus).Round(moneyPlaces)
}
