package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	ActorID    *uuid.UUID `json:"actorId,omitempty"`
	BusinessID *uuid.UUID `json:"businessId,omitempty"`
	Role       string     `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// OrderStatusChanged is the data of an order_status_changed fact.
type OrderStatusChanged struct {
	OrderID    uuid.UUID `json:"orderId"`
	BusinessID uuid.UUID `json:"businessId"`
	EventID    int64     `json:"statusEventId"`
	Status     int       `json:"status"`
	StatusName string    `json:"statusName"`
	Canceled   bool      `json:"canceled"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PaymentCaptured is the data of a payment_captured fact.
type PaymentCaptured struct {
	OrderID      uuid.UUID `json:"orderId"`
	BusinessID   uuid.UUID `json:"businessId"`
	Amount       string    `json:"amount"`
	Reference    string    `json:"reference,omitempty"`
	ApprovalCode string    `json:"approvalCode,omitempty"`
}

// CatalogSynced is the data of a catalog_synced fact.
type CatalogSynced struct {
	BusinessID uuid.UUID `json:"businessId"`
	Received   int       `json:"received"`
	Normalized int       `json:"normalized"`
	Updated    int64     `json:"updated"`
}
