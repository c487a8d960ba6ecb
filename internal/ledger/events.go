package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// StatusChanged is published in process after an append commits.
type StatusChanged struct {
	EventID    int64
	OrderID    uuid.UUID
	BusinessID uuid.UUID
	Status     enums.OrderStatus
	Canceled   bool
	ActorID    *uuid.UUID
	ActorRole  enums.ActorRole
	OccurredAt time.Time
}

// Handler reacts to a committed status change. Its error is logged and never
// affects the appended event.
type Handler func(ctx context.Context, change StatusChanged) error
