package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
)

// Fetcher is the subset of kafka.Consumer the worker needs.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Dispatcher starts outbound delivery for one event without blocking.
type Dispatcher interface {
	DeliverToSubscribers(eventType string, payload model.EventPayload)
}

// EventsKafka:
// - fetches business event envelopes from Kafka,
// - hands each one to the delivery engine,
// - commits the offset once the event is handed off.
type EventsKafka struct {
	Consumer  Fetcher
	Engine    Dispatcher
	Log       *zap.Logger
	RetryWait time.Duration // pause after a fetch error
}

func NewEventsKafka(consumer Fetcher, engine Dispatcher, log *zap.Logger) *EventsKafka {
	return &EventsKafka{
		Consumer:  consumer,
		Engine:    engine,
		Log:       logger.OrNop(log),
		RetryWait: 200 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (w *EventsKafka) Run(ctx context.Context) error {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.RetryWait):
			}
			continue
		}
		w.processOne(ctx, m)
	}
}

func (w *EventsKafka) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || !env.Valid() {
		// poison -> commit, skip
		metrics.EventsConsumedTotal.WithLabelValues("skipped").Inc()
		w.Log.Warn("bad event envelope",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		w.commit(ctx, m)
		return
	}

	w.Engine.DeliverToSubscribers(env.EventType, env.Payload())
	metrics.EventsConsumedTotal.WithLabelValues("dispatched").Inc()

	// at-most-once past this point: retries live in the engine, not in kafka
	w.commit(ctx, m)
}

func (w *EventsKafka) commit(ctx context.Context, m kafka.Message) {
	if err := w.Consumer.Commit(ctx, m); err != nil && ctx.Err() == nil {
		w.Log.Error("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
