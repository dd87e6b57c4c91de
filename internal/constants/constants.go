package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultOrderTopic      = "order.events"
	DefaultPaymentTopic    = "payment.events"
	DefaultDeadLetterTopic = "saga.deadletter"
)

const (
	// DefaultHandlerTimeout bounds a single handler invocation; exceeding it
	// counts as a transient failure and the message is redelivered.
	DefaultHandlerTimeout = 30 * time.Second

	// DefaultReorderTimeout bounds how long a causally-early event may keep
	// being redelivered before it is dead-lettered.
	DefaultReorderTimeout = 60 * time.Second

	DefaultVersionRetryAttempts = 5
)

const (
	// DefaultLedgerRetention must exceed the broker's maximum redelivery
	// window, otherwise a late duplicate could slip past an expired record.
	DefaultLedgerRetention = 72 * time.Hour

	LedgerKeyPrefix = "idem:"
	ChargeKeyPrefix = "charge:"
)

const (
	ConsumerGroupOrder        = "order-service"
	ConsumerGroupPayment      = "payment-service"
	ConsumerGroupNotification = "notification-service"
	ConsumerGroupWebhook      = "payment-webhook"
)

const (
	ShutdownTimeout    = 5 * time.Second
	DefaultHTTPTimeout = 10 * time.Second
)

const DefaultMongoDBName = "orderflow"

const (
	DLQReasonDecodeFailed       = "decode_failed"
	DLQReasonMaxRetriesExceeded = "max_retries_exceeded"
	DLQReasonReorderTimeout     = "reorder_timeout"
)
