package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service records order status facts and projects the current status.
type Service interface {
	Append(ctx context.Context, input AppendInput) (*models.OrderStatusEvent, error)
	Current(ctx context.Context, orderID uuid.UUID) (*models.OrderStatusEvent, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
	StaleInStatus(ctx context.Context, status enums.OrderStatus, after, before time.Time, limit int) ([]uuid.UUID, error)
	Subscribe(status enums.OrderStatus, h Handler)
}

// AppendInput captures the data a status event requires.
type AppendInput struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Status    enums.OrderStatus `json:"status"`
	ActorID   *uuid.UUID        `json:"actor_id,omitempty"`
	ActorRole enums.ActorRole   `json:"actor_role,omitempty"`
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxEmitter
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[enums.OrderStatus][]Handler
}

// Option customizes the ledger service.
type Option func(*service)

func WithOutbox(o outboxEmitter) Option {
	return func(s *service) { s.outbox = o }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *service) { s.logg = l }
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *service) { s.metrics = m }
}

// WithClock overrides the timestamp source for appended events.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	s := &service{
		repo:     repo,
		tx:       tx,
		now:      time.Now,
		handlers: make(map[enums.OrderStatus][]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	return s, nil
}

func (s *service) Subscribe(status enums.OrderStatus, h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[status] = append(s.handlers[status], h)
}

// Append inserts one immutable event. Any known status may follow any other.
func (s *service) Append(ctx context.Context, input AppendInput) (*models.OrderStatusEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid order status %d", int(input.Status))
	}
	role := input.ActorRole
	if role == "" {
		role = enums.ActorRoleSystem
	}
	if !role.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid actor role %q", role)
	}

	event := &models.OrderStatusEvent{
		OrderID:   input.OrderID,
		Status:    input.Status,
		Canceled:  input.Status.CancelsOrder(),
		ActorID:   input.ActorID,
		ActorRole: role,
		CreatedAt: s.now().UTC(),
	}
	var businessID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		businessID, err = repo.OrderBusinessID(ctx, input.OrderID)
		if err != nil {
			return mapLookupError(err, "load order")
		}
		if err := repo.Create(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert status event")
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   event.OrderID,
			Actor:         &outbox.ActorRef{ActorID: event.ActorID, BusinessID: &businessID, Role: role.String()},
			OccurredAt:    event.CreatedAt,
			Data: outbox.OrderStatusChanged{
				OrderID:    event.OrderID,
				BusinessID: businessID,
				EventID:    event.ID,
				Status:     int(event.Status),
				StatusName: event.Status.String(),
				Canceled:   event.Canceled,
				OccurredAt: event.CreatedAt,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status event")
	}

	s.metrics.IncStatusAppend(event.Status.String())
	logCtx := s.logg.WithOrderID(ctx, event.OrderID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"status":          event.Status.String(),
		"status_event_id": event.ID,
		"canceled":        event.Canceled,
	})
	s.logg.Info(logCtx, "order status appended")

	s.dispatch(ctx, StatusChanged{
		EventID:    event.ID,
		OrderID:    event.OrderID,
		BusinessID: businessID,
		Status:     event.Status,
		Canceled:   event.Canceled,
		ActorID:    event.ActorID,
		ActorRole:  role,
		OccurredAt: event.CreatedAt,
	})
	return event, nil
}

func (s *service) Current(ctx context.Context, orderID uuid.UUID) (*models.OrderStatusEvent, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	event, err := s.repo.Current(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order has no status events")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load current status")
	}
	return event, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if _, err := s.repo.OrderBusinessID(ctx, orderID); err != nil {
		return nil, mapLookupError(err, "load order")
	}
	events, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list status events")
	}
	return events, nil
}

// StaleInStatus lists orders whose current status is status and was reached
// inside [after, before), oldest first.
func (s *service) StaleInStatus(ctx context.Context, status enums.OrderStatus, after, before time.Time, limit int) ([]uuid.UUID, error) {
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid order status %d", int(status))
	}
	if !before.After(after) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "window end must follow window start")
	}
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.repo.ListCurrentInStatus(ctx, status, after.UTC(), before.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders by current status")
	}
	return ids, nil
}

// dispatch runs handlers synchronously on the caller's goroutine. Failures and
// panics are logged and swallowed.
func (s *service) dispatch(ctx context.Context, change StatusChanged) {
	s.mu.RLock()
	handlers := append([]Handler(nil), s.handlers[change.Status]...)
	s.mu.RUnlock()

	for _, h := range handlers {
		s.invoke(ctx, h, change)
	}
}

func (s *service) invoke(ctx context.Context, h Handler, change StatusChanged) {
	logCtx := s.logg.WithOrderID(ctx, change.OrderID.String())
	logCtx = s.logg.WithField(logCtx, "status", change.Status.String())
	defer func() {
		if r := recover(); r != nil {
			s.logg.Error(logCtx, "status handler panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := h(ctx, change); err != nil {
		s.logg.Error(logCtx, "status handler failed", err)
	}
}

func mapLookupError(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
