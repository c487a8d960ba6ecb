package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateCatalog OutboxAggregateType = "catalog"
)

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder || a == AggregateCatalog
}

// OutboxEventType names the fact recorded in an outbox row.
type OutboxEventType string

const (
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventPaymentCaptured    OutboxEventType = "payment_captured"
	EventPaymentFailed      OutboxEventType = "payment_failed"
	EventCatalogSynced      OutboxEventType = "catalog_synced"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderStatusChanged,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventCatalogSynced,
}

// IsValid reports whether the value is a known outbox event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
