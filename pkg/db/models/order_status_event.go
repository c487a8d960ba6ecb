package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderStatusEvent is an immutable ledger row. ID is monotonic and breaks
// ties between events sharing a timestamp.
type OrderStatusEvent struct {
	ID        int64             `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	Status    enums.OrderStatus `gorm:"column:status;not null"`
	Canceled  bool              `gorm:"column:canceled;not null;default:false"`
	ActorID   *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	ActorRole enums.ActorRole   `gorm:"column:actor_role;type:text;not null;default:'system'"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}
