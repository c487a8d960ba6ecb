package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// NonRetryableError signals the publisher should park a row instead of retrying it.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// Route is a decoded outbox row plus the topic it belongs on.
type Route struct {
	Topic    string
	Envelope PayloadEnvelope
}

// Router maps event types to Pub/Sub topics.
type Router struct {
	topics map[enums.OutboxEventType]string
}

func NewRouter(cfg config.PubSubConfig) (*Router, error) {
	if cfg.OrderStatusTopic == "" {
		return nil, fmt.Errorf("order status topic is required")
	}
	return &Router{topics: map[enums.OutboxEventType]string{
		enums.EventOrderStatusChanged: cfg.OrderStatusTopic,
		enums.EventPaymentCaptured:    cfg.OrderStatusTopic,
		enums.EventPaymentFailed:      cfg.OrderStatusTopic,
		enums.EventCatalogSynced:      cfg.OrderStatusTopic,
	}}, nil
}

// Resolve validates a row and decodes its envelope.
func (r *Router) Resolve(event models.OutboxEvent) (*Route, error) {
	topic, ok := r.topics[event.EventType]
	if !ok {
		return nil, NonRetryableError{Err: fmt.Errorf("unsupported event type %s", event.EventType)}
	}
	if event.AggregateID == uuid.Nil {
		return nil, NonRetryableError{Err: fmt.Errorf("missing aggregate_id")}
	}
	var envelope PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NonRetryableError{Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if envelope.EventID == "" {
		return nil, NonRetryableError{Err: fmt.Errorf("envelope missing event id")}
	}
	return &Route{Topic: topic, Envelope: envelope}, nil
}
