package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateSaga(cfg.Saga); err != nil {
		errs = append(errs, err)
	}

	if err := validateIdempotency(cfg.Idempotency); err != nil {
		errs = append(errs, err)
	}

	if err := validateRetryCoversReorder(cfg.Broker.Kafka.Retry, cfg.Saga); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}

	return validateKafka(cfg.Kafka)
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.DLQTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.dlq_topic",
			Message: "dead-letter topic is required; exhausted messages must never be dropped",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	return nil
}

func validateSaga(cfg SagaConfig) error {
	if cfg.HandlerTimeout < 0 {
		return &ValidationError{
			Field:   "saga.handler_timeout",
			Message: "handler timeout must be non-negative",
		}
	}

	if cfg.ReorderTimeout < 0 {
		return &ValidationError{
			Field:   "saga.reorder_timeout",
			Message: "reorder timeout must be non-negative",
		}
	}

	if cfg.VersionRetryAttempts < 0 {
		return &ValidationError{
			Field:   "saga.version_retry_attempts",
			Message: "version retry attempts must be non-negative",
		}
	}

	return nil
}

// validateRetryCoversReorder couples the broker retry budget to the reorder
// window. An out-of-order event is held by being redelivered; if the retry
// budget runs out before saga.reorder_timeout elapses, the event is
// dead-lettered as exhausted and the hold discipline never gets to fire.
func validateRetryCoversReorder(retry RetryConfig, saga SagaConfig) error {
	if saga.ReorderTimeout <= 0 {
		return nil
	}

	if retry.MaxElapsedTime > 0 && retry.MaxElapsedTime <= saga.ReorderTimeout {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_elapsed_time",
			Message: fmt.Sprintf("retry budget %s must exceed saga.reorder_timeout %s, or out-of-order events dead-letter before the reorder window elapses", retry.MaxElapsedTime, saga.ReorderTimeout),
		}
	}

	return nil
}

func validateIdempotency(cfg IdempotencyConfig) error {
	if cfg.Retention < 0 {
		return &ValidationError{
			Field:   "idempotency.retention",
			Message: "retention must be non-negative",
		}
	}

	return nil
}
