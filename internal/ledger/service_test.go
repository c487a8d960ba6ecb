package ledger

import (
	"context"
	"encoding/json"
	"errors"
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

type fakeRepository struct {
	businessID uuid.UUID
	createFn   func(ctx context.Context, event *models.OrderStatusEvent) error
}

func (f *fakeRepository) WithTx(*gorm.DB) Repository {
	return f
}

func (f *fakeRepository) OrderBusinessID(context.Context, uuid.UUID) (uuid.UUID, error) {
	if f.businessID == uuid.Nil {
		return uuid.Nil, gorm.ErrRecordNotFound
	}
	return f.businessID, nil
}

func (f *fakeRepository) Create(ctx context.Context, event *models.OrderStatusEvent) error {
	if f.createFn != nil {
		return f.createFn(ctx, event)
	}
	return nil
}

func (f *fakeRepository) Current(context.Context, uuid.UUID) (*models.OrderStatusEvent, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListByOrderID(context.Context, uuid.UUID) ([]models.OrderStatusEvent, error) {
	return nil, nil
}

func (f *fakeRepository) ListCurrentInStatus(context.Context, enums.OrderStatus, time.Time, time.Time, int) ([]uuid.UUID, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestService_AppendSetsCanceledOnlyForPaymentFailed(t *testing.T) {
	for _, status := range []enums.OrderStatus{
		enums.OrderStatusNew,
		enums.OrderStatusReady,
		enums.OrderStatusCanceled,
		enums.OrderStatusPaymentFailed,
		enums.OrderStatusUnpaid,
	} {
		t.Run(status.String(), func(t *testing.T) {
			var created *models.OrderStatusEvent
			repo := &fakeRepository{businessID: uuid.New(), createFn: func(_ context.Context, e *models.OrderStatusEvent) error {
				created = e
				return nil
			}}
			svc, err := NewService(repo, passthroughTx{})
			if err != nil {
				t.Fatalf("unexpected service error: %v", err)
			}
			if _, err := svc.Append(context.Background(), AppendInput{OrderID: uuid.New(), Status: status}); err != nil {
				t.Fatalf("Append error: %v", err)
			}
			if created == nil {
				t.Fatal("expected status event to be created")
			}
			if want := status == enums.OrderStatusPaymentFailed; created.Canceled != want {
				t.Fatalf("status %s: canceled=%v, want %v", status, created.Canceled, want)
			}
			if created.ActorRole != enums.ActorRoleSystem {
				t.Fatalf("expected system actor by default, got %q", created.ActorRole)
			}
		})
	}
}

func TestService_AppendValidation(t *testing.T) {
	svc, err := NewService(&fakeRepository{businessID: uuid.New()}, passthroughTx{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	cases := []AppendInput{
		{Status: enums.OrderStatusReady},
		{OrderID: uuid.New(), Status: enums.OrderStatus(7)},
		{OrderID: uuid.New(), Status: enums.OrderStatusReady, ActorRole: "buyer"},
	}
	for _, in := range cases {
		if _, err := svc.Append(context.Background(), in); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}

func TestService_AppendUnknownOrder(t *testing.T) {
	svc, err := NewService(&fakeRepository{}, passthroughTx{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	_, err = svc.Append(context.Background(), AppendInput{OrderID: uuid.New(), Status: enums.OrderStatusReady})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_AppendStorageFailureSkipsHandlers(t *testing.T) {
	repo := &fakeRepository{businessID: uuid.New(), createFn: func(context.Context, *models.OrderStatusEvent) error {
		return errors.New("disk full")
	}}
	svc, err := NewService(repo, passthroughTx{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	called := false
	svc.Subscribe(enums.OrderStatusReady, func(context.Context, StatusChanged) error {
		called = true
		return nil
	})
	_, err = svc.Append(context.Background(), AppendInput{OrderID: uuid.New(), Status: enums.OrderStatusReady})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if called {
		t.Fatal("handler must not run when the append fails")
	}
}

type ledgerFixture struct {
	conn  *gorm.DB
	svc   Service
	order *models.Order
	clock *time.Time
}

func newLedgerFixture(t *testing.T, opts ...Option) ledgerFixture {
	t.Helper()
	conn := dbtest.Open(t)
	order := &models.Order{
		BusinessID:    uuid.New(),
		CustomerID:    uuid.New(),
		DeliveryPrice: decimal.Zero,
		BonusUsed:     decimal.Zero,
	}
	dbtest.Seed(t, conn, order)
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := ledgerFixture{conn: conn, order: order, clock: &clock}
	opts = append([]Option{WithClock(func() time.Time { return *f.clock })}, opts...)
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f ledgerFixture) append(t *testing.T, status enums.OrderStatus) *models.OrderStatusEvent {
	t.Helper()
	event, err := f.svc.Append(context.Background(), AppendInput{OrderID: f.order.ID, Status: status, ActorRole: enums.ActorRoleMerchant})
	require.NoError(t, err)
	return event
}

func TestCurrentIsLatestByTimestamp(t *testing.T) {
	f := newLedgerFixture(t)
	f.append(t, enums.OrderStatusNew)
	*f.clock = f.clock.Add(time.Minute)
	f.append(t, enums.OrderStatusAccepted)
	*f.clock = f.clock.Add(time.Minute)
	f.append(t, enums.OrderStatusReady)

	current, err := f.svc.Current(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReady, current.Status)

	history, err := f.svc.History(context.Background(), f.order.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, enums.OrderStatusNew, history[0].Status)
	assert.Equal(t, enums.OrderStatusReady, history[2].Status)
}

func TestCurrentTieBreaksOnInsertionOrder(t *testing.T) {
	f := newLedgerFixture(t)
	f.append(t, enums.OrderStatusReady)
	last := f.append(t, enums.OrderStatusCanceled)

	current, err := f.svc.Current(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, current.ID)
	assert.Equal(t, enums.OrderStatusCanceled, current.Status)
}

func TestCurrentIgnoresLaterInsertWithOlderTimestamp(t *testing.T) {
	f := newLedgerFixture(t)
	f.append(t, enums.OrderStatusDelivered)
	*f.clock = f.clock.Add(-time.Hour)
	f.append(t, enums.OrderStatusAccepted)

	current, err := f.svc.Current(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, current.Status)
}

func TestAppendAcceptsAnyTransition(t *testing.T) {
	f := newLedgerFixture(t)
	for _, status := range []enums.OrderStatus{
		enums.OrderStatusDelivered,
		enums.OrderStatusNew,
		enums.OrderStatusUnpaid,
		enums.OrderStatusReady,
	} {
		*f.clock = f.clock.Add(time.Second)
		f.append(t, status)
	}
	history, err := f.svc.History(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestCurrentWithoutEventsIsNotFound(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.svc.Current(context.Background(), f.order.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = f.svc.History(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestAppendWritesOutboxFactInSameTx(t *testing.T) {
	conn := dbtest.Open(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	order := &models.Order{BusinessID: uuid.New(), CustomerID: uuid.New(), DeliveryPrice: decimal.Zero, BonusUsed: decimal.Zero}
	dbtest.Seed(t, conn, order)
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), WithOutbox(emitter))
	require.NoError(t, err)

	event, err := svc.Append(context.Background(), AppendInput{OrderID: order.ID, Status: enums.OrderStatusReady})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderStatusChanged, rows[0].EventType)
	assert.Equal(t, order.ID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var data outbox.OrderStatusChanged
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, event.ID, data.EventID)
	assert.Equal(t, order.BusinessID, data.BusinessID)
	assert.Equal(t, "ready", data.StatusName)
}

func TestHandlersRunAfterCommitAndFailuresAreSwallowed(t *testing.T) {
	f := newLedgerFixture(t)
	var seen []StatusChanged
	f.svc.Subscribe(enums.OrderStatusReady, func(ctx context.Context, change StatusChanged) error {
		// the event is visible to the handler
		current, err := f.svc.Current(ctx, change.OrderID)
		require.NoError(t, err)
		assert.Equal(t, change.EventID, current.ID)
		seen = append(seen, change)
		return errors.New("gateway down")
	})
	f.svc.Subscribe(enums.OrderStatusReady, func(context.Context, StatusChanged) error {
		panic("boom")
	})
	f.svc.Subscribe(enums.OrderStatusDelivered, func(context.Context, StatusChanged) error {
		t.Fatal("delivered handler must not run for READY")
		return nil
	})

	event := f.append(t, enums.OrderStatusReady)
	require.Len(t, seen, 1)
	assert.Equal(t, event.ID, seen[0].EventID)
	assert.Equal(t, f.order.BusinessID, seen[0].BusinessID)
	assert.Equal(t, enums.ActorRoleMerchant, seen[0].ActorRole)

	history, err := f.svc.History(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStaleInStatusUsesCurrentStatusOnly(t *testing.T) {
	f := newLedgerFixture(t)
	f.append(t, enums.OrderStatusReady)

	moved := &models.Order{BusinessID: f.order.BusinessID, CustomerID: uuid.New(), DeliveryPrice: decimal.Zero, BonusUsed: decimal.Zero}
	fresh := &models.Order{BusinessID: f.order.BusinessID, CustomerID: uuid.New(), DeliveryPrice: decimal.Zero, BonusUsed: decimal.Zero}
	dbtest.Seed(t, f.conn, moved, fresh)

	_, err := f.svc.Append(context.Background(), AppendInput{OrderID: moved.ID, Status: enums.OrderStatusReady})
	require.NoError(t, err)
	*f.clock = f.clock.Add(time.Minute)
	_, err = f.svc.Append(context.Background(), AppendInput{OrderID: moved.ID, Status: enums.OrderStatusPaymentFailed})
	require.NoError(t, err)

	*f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.svc.Append(context.Background(), AppendInput{OrderID: fresh.ID, Status: enums.OrderStatusReady})
	require.NoError(t, err)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ids, err := f.svc.StaleInStatus(context.Background(), enums.OrderStatusReady, start, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.order.ID}, ids)

	_, err = f.svc.StaleInStatus(context.Background(), enums.OrderStatusReady, cutoff, start, 10)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}
