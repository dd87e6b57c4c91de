package bootstrap

import (
	"context"
	"fmt"

	"orderflow/internal/broker"
	"orderflow/internal/config"
	"orderflow/internal/logger"
)

// Base carries the pieces every service shares: configuration, the logger
// and the broker pair. Service apps embed it and layer their own
// repositories, handlers and HTTP surface on top.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{Config: cfg, Logger: log}
}

// InitBroker builds the producer and the service's primary consumer. The
// service name flows into the consumer so dead-letter records identify who
// gave up on a message.
func (b *Base) InitBroker(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("create consumer: %w", err)
	}
	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}
	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	return errs
}

// Shutdown closes the broker first so no new deliveries arrive while the
// service-specific shutdown closure drains servers and database handles.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down")

	errs := b.ShutdownBroker()
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Shutdown complete")
	return nil
}
