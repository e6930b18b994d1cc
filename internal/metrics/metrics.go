package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	InboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgw_inbound_webhooks_total",
			Help: "Inbound webhooks by provider and outcome",
		},
		[]string{"provider", "outcome"}, // processed|unprocessed|invalid_signature|malformed|rejected|handler_error|error
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgw_delivery_attempts_total",
			Help: "Outbound delivery attempts by event type and outcome",
		},
		[]string{"event_type", "outcome"}, // delivered|retry|failed
	)

	DeliveryBreakerHolds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookgw_delivery_breaker_holds_total",
			Help: "Delivery attempts held back by an open circuit breaker",
		},
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookgw_delivery_latency_seconds",
			Help:    "Outbound delivery attempt latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	EventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgw_events_consumed_total",
			Help: "Business events read from kafka by result",
		},
		[]string{"result"}, // dispatched|skipped
	)
)

var regOnce sync.Once

// MustRegister registers all collectors on r. Only the first call has effect,
// so serve and worker wiring may both call it.
func MustRegister(r prometheus.Registerer) {
	regOnce.Do(func() {
		r.MustRegister(
			InboundTotal,
			DeliveryAttemptsTotal,
			DeliveryBreakerHolds,
			DeliveryLatency,
			EventsConsumedTotal,
		)
	})
}
