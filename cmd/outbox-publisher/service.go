package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 500
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

// Delivery outcomes, also used as the outcome metric label.
const (
	outcomePublished     = "published"
	outcomeRetry         = "retry"
	terminalNonRetryable = "non_retryable"
	terminalMaxAttempts  = "max_attempts"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type eventRouter interface {
	Resolve(models.OutboxEvent) (*outbox.Route, error)
}

type publishObserver interface {
	ObserveOutboxPublish(eventType, outcome string)
}

// publisher is the slice of a Pub/Sub publisher the relay drives.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Resume(orderingKey string)
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type RelayParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Router     eventRouter
	Metrics    publishObserver
	// Publishers overrides how a topic's publisher is opened.
	Publishers func(topic string) publisher
}

// Relay drains the outbox table onto Pub/Sub. Each row ends a pass either
// published, queued for retry or parked.
type Relay struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	pubsub      pubSubClient
	router      eventRouter
	metrics     publishObserver
	open        func(topic string) publisher
	batchSize   int
	maxAttempts int
	pace        *pacer

	mu     sync.Mutex
	topics map[string]publisher
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Router == nil:
		return nil, errors.New("event router is required")
	}

	r := &Relay{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		pubsub:      params.PubSub,
		router:      params.Router,
		metrics:     params.Metrics,
		open:        params.Publishers,
		batchSize:   orDefault(params.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: orDefault(params.Outbox.MaxAttempts, defaultMaxAttempts),
		topics:      map[string]publisher{},
	}
	r.pace = newPacer(time.Duration(orDefault(params.Outbox.PollIntervalMS, defaultPollMs))*time.Millisecond, maxBackoff)
	if r.open == nil {
		r.open = func(topic string) publisher {
			return newOrderedPublisher(params.PubSub.Publisher(topic))
		}
	}
	return r, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run polls until ctx ends. An empty pass waits one poll interval; a failed
// pass backs off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	defer r.stopPublishers()

	deps := []struct {
		name string
		ping func(context.Context) error
	}{{"database", r.db.Ping}, {"pubsub", r.pubsub.Ping}}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			r.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	for {
		drained, err := r.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay pass failed", err)
			wait = r.pace.failed()
		case drained:
			r.pace.reset()
			continue
		default:
			wait = r.pace.idle()
		}
		if err := sleep(ctx, wait); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}
	}
}

// processBatch handles one locked batch and reports whether it held rows.
func (r *Relay) processBatch(ctx context.Context) (bool, error) {
	var rows int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		rows = len(events)
		for _, event := range events {
			if err := r.record(ctx, tx, event, r.deliver(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return rows > 0, err
}

// verdict is the result of one delivery attempt.
type verdict struct {
	outcome string
	topic   string
	eventID string
	err     error
}

func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) verdict {
	route, err := r.router.Resolve(event)
	if err != nil {
		return verdict{outcome: terminalNonRetryable, err: err}
	}
	v := verdict{topic: route.Topic, eventID: route.Envelope.EventID}

	pub := r.publisherFor(route.Topic)
	if pub == nil {
		v.outcome, v.err = terminalNonRetryable, fmt.Errorf("publisher not configured for topic %s", route.Topic)
		return v
	}

	key := event.AggregateID.String()
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       route.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   key,
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		v.outcome, v.err = terminalNonRetryable, fmt.Errorf("publisher returned nil for topic %s", route.Topic)
		return v
	}
	if _, err := result.Get(publishCtx); err != nil {
		// the key stays paused after a failed ordered publish
		pub.Resume(key)
		v.err = err
		var nonRetry outbox.NonRetryableError
		switch {
		case errors.As(err, &nonRetry):
			v.outcome = terminalNonRetryable
		case event.AttemptCount+1 >= r.maxAttempts:
			v.outcome, v.err = terminalMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err)
		default:
			v.outcome = outcomeRetry
		}
		return v
	}
	v.outcome = outcomePublished
	return v
}

func (r *Relay) record(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, v verdict) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
		"event_id":      v.eventID,
		"topic":         v.topic,
		"outcome":       v.outcome,
	})

	var err error
	switch v.outcome {
	case outcomePublished:
		err = r.repo.MarkPublishedTx(tx, event.ID)
		r.logg.Info(logCtx, "outbox event published")
	case outcomeRetry:
		err = r.repo.MarkFailedTx(tx, event.ID, v.err)
		r.logg.Warn(r.logg.WithField(logCtx, "error", v.err.Error()), "outbox publish failed, will retry")
	default:
		err = r.repo.MarkTerminalTx(tx, event.ID, v.err, r.maxAttempts)
		r.logg.Warn(r.logg.WithField(logCtx, "error", v.err.Error()), "outbox event parked")
	}
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", v.outcome, event.ID, err)
	}
	if r.metrics != nil {
		r.metrics.ObserveOutboxPublish(string(event.EventType), v.outcome)
	}
	return nil
}

// publisherFor opens each topic once; Pub/Sub publishers batch in the
// background and must be reused.
func (r *Relay) publisherFor(topic string) publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pub, ok := r.topics[topic]; ok {
		return pub
	}
	pub := r.open(topic)
	if pub != nil {
		r.topics[topic] = pub
	}
	return pub
}

func (r *Relay) stopPublishers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, pub := range r.topics {
		pub.Stop()
		delete(r.topics, topic)
	}
}

// pacer tracks the wait between polls.
type pacer struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	rnd     *rand.Rand
}

func newPacer(base, max time.Duration) *pacer {
	return &pacer{base: base, max: max, current: base, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *pacer) reset() { p.current = p.base }

func (p *pacer) idle() time.Duration {
	p.reset()
	return p.jitter(p.base)
}

// failed doubles the wait up to max.
func (p *pacer) failed() time.Duration {
	p.current = min(p.current*2, p.max)
	return p.jitter(p.current)
}

func (p *pacer) jitter(d time.Duration) time.Duration {
	return d + time.Duration(p.rnd.Int63n(int64(jitterWindow)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// orderedPublisher adapts a Pub/Sub publisher with per-aggregate ordering.
type orderedPublisher struct {
	p *gcppubsub.Publisher
}

func newOrderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &orderedPublisher{p: p}
}

func (o *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return o.p.Publish(ctx, msg)
}

func (o *orderedPublisher) Resume(orderingKey string) { o.p.ResumePublish(orderingKey) }

func (o *orderedPublisher) Stop() { o.p.Stop() }
