package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-backend/internal/settlement"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const (
	sweepMinAge   = 10 * time.Minute
	sweepLookback = 24 * time.Hour
	sweepBatch    = 100
)

type staleLister interface {
	StaleInStatus(ctx context.Context, status enums.OrderStatus, after, before time.Time, limit int) ([]uuid.UUID, error)
}

type orderLoader interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type settler interface {
	Settle(ctx context.Context, orderID uuid.UUID) (*settlement.Outcome, error)
}

type SettlementSweepJobParams struct {
	Logger   *logger.Logger
	Ledger   staleLister
	Orders   orderLoader
	Settler  settler
	MinAge   time.Duration
	Lookback time.Duration
	Batch    int
}

// NewSettlementSweepJob retries settlement for orders that reached READY but
// never reached the gateway, e.g. after a crash between the status append and
// the handler. Orders with a recorded capture attempt are left alone.
func NewSettlementSweepJob(params SettlementSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("status ledger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("settlement orchestrator required")
	}
	j := &settlementSweepJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		orders:   params.Orders,
		settler:  params.Settler,
		minAge:   params.MinAge,
		lookback: params.Lookback,
		batch:    params.Batch,
		now:      time.Now,
	}
	if j.minAge <= 0 {
		j.minAge = sweepMinAge
	}
	if j.lookback <= j.minAge {
		j.lookback = j.minAge + sweepLookback
	}
	if j.batch <= 0 {
		j.batch = sweepBatch
	}
	return j, nil
}

type settlementSweepJob struct {
	logg     *logger.Logger
	ledger   staleLister
	orders   orderLoader
	settler  settler
	minAge   time.Duration
	lookback time.Duration
	batch    int
	now      func() time.Time
}

func (j *settlementSweepJob) Name() string { return "settlement-sweep" }

func (j *settlementSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	ids, err := j.ledger.StaleInStatus(ctx, enums.OrderStatusReady, now.Add(-j.lookback), now.Add(-j.minAge), j.batch)
	if err != nil {
		return fmt.Errorf("list stale ready orders: %w", err)
	}

	var errs error
	retried, skipped := 0, 0
	for _, id := range ids {
		logCtx := j.logg.WithOrderID(ctx, id.String())
		order, err := j.orders.Get(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load order %s: %w", id, err))
			continue
		}
		if !order.HasPaymentHold() || order.Extra["settlement"] != nil || order.Extra[settlement.AttemptKey] != nil {
			skipped++
			continue
		}
		retried++
		outcome, err := j.settler.Settle(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("settle order %s: %w", id, err))
			continue
		}
		j.logg.Info(j.logg.WithField(logCtx, "outcome", outcome.Result), "stale settlement retried")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"retried":    retried,
		"skipped":    skipped,
	}), "settlement sweep complete")
	return errs
}
