// Package settlement captures the reconciled order total against the payment
// hold once a merchant marks the order ready.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/costs"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/bank"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const (
	defaultDeadline = 20 * time.Second
	leaseScope      = "settlement"
)

var tracer = otel.Tracer("github.com/angelmondragon/marketplace-backend/internal/settlement")

type recomputer interface {
	Recompute(ctx context.Context, orderID uuid.UUID) (*costs.Result, error)
}

type statusAppender interface {
	Append(ctx context.Context, input ledger.AppendInput) (*models.OrderStatusEvent, error)
}

type subscriber interface {
	Subscribe(status enums.OrderStatus, h ledger.Handler)
}

type leaser interface {
	Acquire(ctx context.Context, key string) (*redis.Lease, bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Deps groups the collaborators of the orchestrator. Leases, Outbox and
// Metrics are optional.
type Deps struct {
	Orders   orders.Service
	Costs    recomputer
	Ledger   statusAppender
	Gateway  bank.Gateway
	Leases   leaser
	LeaseKey func(scope, id string) string
	Tx       txRunner
	Outbox   outboxEmitter
	Logger   *logger.Logger
	Metrics  *metrics.PipelineMetrics
	Deadline time.Duration
	Clock    func() time.Time
}

// Outcome summarizes one settlement run.
type Outcome struct {
	OrderID uuid.UUID
	Result  string
	Cost    *costs.Result
	Capture *bank.CaptureResult
	Amount  decimal.Decimal
	Partial bool
}

// Orchestrator runs cost recompute then capture for READY orders.
type Orchestrator struct {
	orders   orders.Service
	costs    recomputer
	ledger   statusAppender
	gateway  bank.Gateway
	leases   leaser
	leaseKey func(scope, id string) string
	tx       txRunner
	outbox   outboxEmitter
	logg     *logger.Logger
	metrics  *metrics.PipelineMetrics
	deadline time.Duration
	now      func() time.Time
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if deps.Costs == nil {
		return nil, fmt.Errorf("cost aggregator required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("status ledger required")
	}
	if deps.Outbox != nil && deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required with outbox")
	}
	o := &Orchestrator{
		orders:   deps.Orders,
		costs:    deps.Costs,
		ledger:   deps.Ledger,
		gateway:  deps.Gateway,
		leases:   deps.Leases,
		leaseKey: deps.LeaseKey,
		tx:       deps.Tx,
		outbox:   deps.Outbox,
		logg:     deps.Logger,
		metrics:  deps.Metrics,
		deadline: deps.Deadline,
		now:      deps.Clock,
	}
	if o.logg == nil {
		o.logg = logger.Nop()
	}
	if o.deadline <= 0 {
		o.deadline = defaultDeadline
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.leaseKey == nil {
		o.leaseKey = func(scope, id string) string { return scope + ":" + id }
	}
	return o, nil
}

// Register subscribes the orchestrator to READY transitions.
func (o *Orchestrator) Register(l subscriber) {
	l.Subscribe(enums.OrderStatusReady, o.Handle)
}

// Handle is the ledger handler for READY events. The committed READY fact
// outlives the request that appended it, so settlement runs detached from the
// caller's cancellation and is bounded only by the settlement deadline.
func (o *Orchestrator) Handle(ctx context.Context, change ledger.StatusChanged) error {
	if change.Status != enums.OrderStatusReady {
		return nil
	}
	_, err := o.Settle(context.WithoutCancel(ctx), change.OrderID)
	return err
}

// Settle recomputes the order cost and captures it against the payment hold.
// Any failure is recorded as a PAYMENT_FAILED status; the cost row keeps the
// freshly computed subtotal either way.
func (o *Orchestrator) Settle(ctx context.Context, orderID uuid.UUID) (*Outcome, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx, span := tracer.Start(ctx, "settlement.settle")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))
	logCtx := o.logg.WithOrderID(ctx, orderID.String())

	outcome := &Outcome{OrderID: orderID}
	if o.leases != nil {
		lease, ok, err := o.leases.Acquire(ctx, o.leaseKey(leaseScope, orderID.String()))
		if err != nil {
			return o.fail(logCtx, outcome, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire settlement lease"))
		}
		if !ok {
			outcome.Result = metrics.OutcomeLeaseHeld
			o.metrics.IncSettlement(outcome.Result)
			o.logg.Warn(logCtx, "settlement already running for order, skipping")
			return outcome, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				o.logg.Error(logCtx, "release settlement lease", err)
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	cost, err := o.costs.Recompute(runCtx, orderID)
	if err != nil {
		return o.fail(logCtx, outcome, err)
	}
	outcome.Cost = cost
	outcome.Amount = cost.FinalAmount

	order, err := o.orders.Get(runCtx, orderID)
	if err != nil {
		return o.fail(logCtx, outcome, err)
	}
	if !order.HasPaymentHold() {
		return o.skip(logCtx, outcome, metrics.OutcomeNoPaymentRef, "order has no payment hold, nothing to capture")
	}
	if !cost.Capturable {
		return o.skip(logCtx, outcome, metrics.OutcomeNothingOwed, "final amount is not positive, skipping capture")
	}
	if o.gateway == nil {
		return o.fail(logCtx, outcome, pkgerrors.New(pkgerrors.CodeDependency, "bank gateway not configured"))
	}

	amount := &cost.FinalAmount
	if order.PaymentHoldAmount != nil && order.PaymentHoldAmount.Equal(cost.FinalAmount) {
		amount = nil
	}
	outcome.Partial = amount != nil

	// written before the gateway call; the sweep never retries an order carrying it
	if err := o.orders.MergeExtra(runCtx, orderID, attemptPatch(order, cost, outcome.Partial, o.now().UTC())); err != nil {
		return o.fail(logCtx, outcome, err)
	}

	started := o.now()
	token, err := o.gateway.Authenticate(runCtx)
	if err != nil {
		return o.fail(logCtx, outcome, err)
	}
	capture, err := o.gateway.Capture(runCtx, token, *order.PaymentHoldRef, amount)
	o.metrics.ObserveCapture(o.now().Sub(started))
	if err != nil {
		return o.fail(logCtx, outcome, err)
	}
	outcome.Capture = capture
	outcome.Result = metrics.OutcomeCaptured
	o.metrics.IncSettlement(outcome.Result)
	span.SetAttributes(attribute.String("settlement.outcome", outcome.Result))

	capturedAt := o.now().UTC()
	patch := map[string]any{"settlement": map[string]any{
		"amount":      cost.FinalAmount.StringFixed(2),
		"partial":     outcome.Partial,
		"captured_at": capturedAt.Format(time.RFC3339),
		"gateway":     gatewaySnapshot(capture),
	}}
	// the capture already happened; a failed write here must not read as a failed payment
	if err := o.orders.MergeExtra(context.WithoutCancel(ctx), orderID, patch, o.capturedHook(order, cost, capture)); err != nil {
		o.logg.Error(logCtx, "record captured settlement on order", err)
		return outcome, err
	}
	o.logg.Info(o.logg.WithFields(logCtx, map[string]any{
		"amount":    cost.FinalAmount.StringFixed(2),
		"partial":   outcome.Partial,
		"reference": capture.Reference,
	}), "payment captured")
	return outcome, nil
}

func (o *Orchestrator) skip(ctx context.Context, outcome *Outcome, result, msg string) (*Outcome, error) {
	outcome.Result = result
	o.metrics.IncSettlement(result)
	o.logg.Info(ctx, msg)
	return outcome, nil
}

// fail appends PAYMENT_FAILED on a context detached from the settlement
// deadline, so an expired capture still leaves its audit record.
func (o *Orchestrator) fail(ctx context.Context, outcome *Outcome, cause error) (*Outcome, error) {
	outcome.Result = metrics.OutcomeFailed
	o.metrics.IncSettlement(outcome.Result)
	o.logg.Error(ctx, "settlement failed", cause)

	detached := context.WithoutCancel(ctx)
	_, appendErr := o.ledger.Append(detached, ledger.AppendInput{
		OrderID:   outcome.OrderID,
		Status:    enums.OrderStatusPaymentFailed,
		ActorRole: enums.ActorRoleSystem,
	})
	if appendErr != nil {
		o.logg.Error(ctx, "append payment failed status", appendErr)
	}
	emitErr := o.emitFailure(detached, outcome, cause)
	if emitErr != nil {
		o.logg.Error(ctx, "queue payment failed fact", emitErr)
	}

	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	return outcome, multierr.Combine(cause, appendErr, emitErr)
}

func (o *Orchestrator) emitFailure(ctx context.Context, outcome *Outcome, cause error) error {
	if o.outbox == nil {
		return nil
	}
	data := paymentFailed{OrderID: outcome.OrderID, Reason: cause.Error(), Code: string(codeOf(cause))}
	if outcome.Cost != nil {
		data.BusinessID = outcome.Cost.BusinessID
		data.Amount = outcome.Cost.FinalAmount.StringFixed(2)
	}
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   outcome.OrderID,
			Actor:         &outbox.ActorRef{Role: enums.ActorRoleSystem.String()},
			Data:          data,
		})
	})
}

func (o *Orchestrator) capturedHook(order *models.Order, cost *costs.Result, capture *bank.CaptureResult) orders.TxHook {
	return func(tx *gorm.DB) error {
		if o.outbox == nil {
			return nil
		}
		businessID := order.BusinessID
		return o.outbox.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCaptured,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{BusinessID: &businessID, Role: enums.ActorRoleSystem.String()},
			Data: outbox.PaymentCaptured{
				OrderID:      order.ID,
				BusinessID:   order.BusinessID,
				Amount:       cost.FinalAmount.StringFixed(2),
				Reference:    capture.Reference,
				ApprovalCode: capture.ApprovalCode,
			},
		})
	}
}

// AttemptKey marks an order whose capture was sent to the gateway.
const AttemptKey = "settlement_attempt"

func attemptPatch(order *models.Order, cost *costs.Result, partial bool, at time.Time) map[string]any {
	return map[string]any{AttemptKey: map[string]any{
		"hold_ref":   *order.PaymentHoldRef,
		"amount":     cost.FinalAmount.StringFixed(2),
		"partial":    partial,
		"started_at": at.Format(time.RFC3339),
	}}
}

type paymentFailed struct {
	OrderID    uuid.UUID `json:"orderId"`
	BusinessID uuid.UUID `json:"businessId"`
	Amount     string    `json:"amount,omitempty"`
	Code       string    `json:"code,omitempty"`
	Reason     string    `json:"reason"`
}

func gatewaySnapshot(res *bank.CaptureResult) map[string]any {
	snapshot := map[string]any{
		"code":          res.Code,
		"message":       res.Message,
		"reference":     res.Reference,
		"approval_code": res.ApprovalCode,
		"response_code": res.ResponseCode,
	}
	if len(res.Raw) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(res.Raw, &raw); err == nil {
			snapshot["raw"] = raw
		}
	}
	return snapshot
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.CodeDependency
	}
	return pkgerrors.CodeInternal
}
