package broker

import (
	"context"

	"orderflow/pkg/models"
)

// Producer publishes envelopes keyed by aggregate id, blocking until the
// broker acknowledges durable receipt.
type Producer interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
	Close() error
}

// Consumer delivers envelopes to a handler at-least-once, in per-aggregate
// order. Consume blocks until the context is cancelled.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, env models.Envelope) error
