package orders

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/ledger"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const orderIDParam = "orderId"

type statusLedger interface {
	Append(ctx context.Context, input ledger.AppendInput) (*models.OrderStatusEvent, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
}

type orderLookup interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type appendStatusRequest struct {
	Status *int `json:"status" validate:"required,gte=0"`
}

// StatusView is the wire form of one ledger event.
type StatusView struct {
	ID        int64      `json:"id"`
	OrderID   uuid.UUID  `json:"order_id"`
	Status    int        `json:"status"`
	Name      string     `json:"name"`
	Canceled  bool       `json:"canceled"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	ActorRole string     `json:"actor_role"`
	CreatedAt time.Time  `json:"created_at"`
}

// StatusHistory pairs the current status with every event in order.
type StatusHistory struct {
	Current StatusView   `json:"current"`
	History []StatusView `json:"history"`
}

func toView(ev models.OrderStatusEvent) StatusView {
	return StatusView{
		ID:        ev.ID,
		OrderID:   ev.OrderID,
		Status:    int(ev.Status),
		Name:      ev.Status.String(),
		Canceled:  ev.Canceled,
		ActorID:   ev.ActorID,
		ActorRole: string(ev.ActorRole),
		CreatedAt: ev.CreatedAt,
	}
}

// AppendStatus records a status transition reported by the caller.
func AppendStatus(statuses statusLedger, orders orderLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := authorizedOrder(r, orders)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req appendStatusRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(*req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]any{"status": *req.Status}))
			return
		}

		ev, err := statuses.Append(r.Context(), ledger.AppendInput{
			OrderID:   orderID,
			Status:    status,
			ActorID:   middleware.ActorIDFromContext(r.Context()),
			ActorRole: middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toView(*ev))
	}
}

// GetStatus returns the current status and the full history.
func GetStatus(statuses statusLedger, orders orderLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := authorizedOrder(r, orders)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := statuses.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(events) == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order has no status events"))
			return
		}

		out := StatusHistory{History: make([]StatusView, 0, len(events))}
		for _, ev := range events {
			out.History = append(out.History, toView(ev))
		}
		// history is ordered by (created_at, id) so the last event is current
		out.Current = out.History[len(out.History)-1]
		responses.WriteSuccess(w, out)
	}
}

// authorizedOrder resolves the path order and hides orders of other
// businesses behind NotFound.
func authorizedOrder(r *http.Request, orders orderLookup) (uuid.UUID, error) {
	orderID, err := validators.ParseUUIDParam(r, orderIDParam)
	if err != nil {
		return uuid.Nil, err
	}
	businessID, ok := middleware.BusinessIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "business scope missing")
	}
	order, err := orders.Get(r.Context(), orderID)
	if err != nil {
		return uuid.Nil, err
	}
	if order.BusinessID != businessID {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return orderID, nil
}
