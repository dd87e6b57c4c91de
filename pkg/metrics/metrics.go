package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SagaTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transitions_total",
			Help: "Total number of order saga state transitions (count)",
		},
		[]string{"from", "to"},
	)

	SagaTerminalReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_terminal_replays_total",
			Help: "Events redelivered for orders already in a terminal state (count)",
		},
	)

	SagaVersionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saga_version_conflicts_total",
			Help: "Optimistic concurrency conflicts during saga persistence (count)",
		},
	)

	ReorderBufferHolds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_reorder_buffer_holds",
			Help: "Events currently held as causally out of order (count)",
		},
	)

	IdempotencyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_checks_total",
			Help: "Idempotency ledger checks by outcome (count)",
		},
		[]string{"consumer_group", "outcome"},
	)

	PublishRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_retries_total",
			Help: "Producer retry attempts per topic (count)",
		},
		[]string{"topic"},
	)

	PublishedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "published_events_total",
			Help: "Events published per topic and event type (count)",
		},
		[]string{"topic", "event_type"},
	)

	ConsumedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumed_events_total",
			Help: "Events delivered to handlers per topic and outcome (count)",
		},
		[]string{"service", "topic", "outcome"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handler_duration_ms",
			Help:    "Handler execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"service", "topic"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Consumer-side handler retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Messages routed to the dead-letter topic (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Payment gateway webhook deliveries by outcome (count)",
		},
		[]string{"outcome"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Transactional emails by outcome (count)",
		},
		[]string{"template", "outcome"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	RateLimitedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "HTTP requests rejected by the rate limiter (count)",
		},
		[]string{"path"},
	)
)

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		PublishedEventsTotal,
		PublishRetriesTotal,
		ConsumedEventsTotal,
		HandlerDuration,
		RetryAttemptsTotal,
		DLQMessagesTotal,
	)
}

func RegisterSagaMetrics() {
	prometheus.MustRegister(
		SagaTransitionsTotal,
		SagaTerminalReplaysTotal,
		SagaVersionConflictsTotal,
		ReorderBufferHolds,
		IdempotencyChecksTotal,
	)
}

func RegisterPaymentMetrics() {
	prometheus.MustRegister(
		WebhooksTotal,
		IdempotencyChecksTotal,
		RateLimitedRequestsTotal,
	)
}

func RegisterNotificationMetrics() {
	prometheus.MustRegister(
		NotificationsTotal,
		IdempotencyChecksTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
	)
}

func ObserveHandlerDuration(service, topic string, d time.Duration) {
	HandlerDuration.WithLabelValues(service, topic).Observe(float64(d.Milliseconds()))
}

func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}
