package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/internal/settlement"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type fakeStaleLister struct {
	ids    []uuid.UUID
	status enums.OrderStatus
	after  time.Time
	before time.Time
	limit  int
}

func (f *fakeStaleLister) StaleInStatus(_ context.Context, status enums.OrderStatus, after, before time.Time, limit int) ([]uuid.UUID, error) {
	f.status, f.after, f.before, f.limit = status, after, before, limit
	return f.ids, nil
}

type fakeOrderLoader map[uuid.UUID]*models.Order

func (f fakeOrderLoader) Get(_ context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := f[id]
	if !ok {
		return nil, errors.New("missing order")
	}
	return order, nil
}

type fakeSettler struct {
	calls []uuid.UUID
	fail  map[uuid.UUID]error
}

func (f *fakeSettler) Settle(_ context.Context, id uuid.UUID) (*settlement.Outcome, error) {
	f.calls = append(f.calls, id)
	if err := f.fail[id]; err != nil {
		return &settlement.Outcome{OrderID: id, Result: metrics.OutcomeFailed}, err
	}
	return &settlement.Outcome{OrderID: id, Result: metrics.OutcomeCaptured}, nil
}

func holdRef(v string) *string { return &v }

func TestSettlementSweepRetriesUnsettledHolds(t *testing.T) {
	pending := &models.Order{ID: uuid.New(), PaymentHoldRef: holdRef("op-1")}
	settled := &models.Order{ID: uuid.New(), PaymentHoldRef: holdRef("op-2"), Extra: types.JSONMap{"settlement": map[string]any{"amount": "10.00"}}}
	attempted := &models.Order{ID: uuid.New(), PaymentHoldRef: holdRef("op-4"), Extra: types.JSONMap{settlement.AttemptKey: map[string]any{"hold_ref": "op-4"}}}
	noHold := &models.Order{ID: uuid.New()}
	failing := &models.Order{ID: uuid.New(), PaymentHoldRef: holdRef("op-3")}

	lister := &fakeStaleLister{ids: []uuid.UUID{pending.ID, settled.ID, attempted.ID, noHold.ID, failing.ID}}
	settler := &fakeSettler{fail: map[uuid.UUID]error{failing.ID: errors.New("gateway down")}}
	jobIface, err := NewSettlementSweepJob(SettlementSweepJobParams{
		Logger:  logger.Nop(),
		Ledger:  lister,
		Orders:  fakeOrderLoader{pending.ID: pending, settled.ID: settled, attempted.ID: attempted, noHold.ID: noHold, failing.ID: failing},
		Settler: settler,
		MinAge:  10 * time.Minute,
		Batch:   25,
	})
	require.NoError(t, err)
	job := jobIface.(*settlementSweepJob)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), failing.ID.String())

	assert.Equal(t, []uuid.UUID{pending.ID, failing.ID}, settler.calls)
	assert.Equal(t, enums.OrderStatusReady, lister.status)
	assert.Equal(t, now.Add(-10*time.Minute), lister.before)
	assert.Equal(t, now.Add(-10*time.Minute-sweepLookback), lister.after)
	assert.Equal(t, 25, lister.limit)
}

func TestSettlementSweepRequiresCollaborators(t *testing.T) {
	_, err := NewSettlementSweepJob(SettlementSweepJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}
