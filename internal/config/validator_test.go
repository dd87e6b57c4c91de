package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8080,
			ReadTimeoutSeconds:  10 * time.Second,
			WriteTimeoutSeconds: 10 * time.Second,
		},
		Broker: BrokerConfig{
			Type: "kafka",
			Kafka: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				GroupID:  "order-service",
				DLQTopic: "saga.deadletter",
				Retry: RetryConfig{
					MaxAttempts:     12,
					InitialInterval: time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
					MaxElapsedTime:  5 * time.Minute,
				},
			},
		},
		Saga: SagaConfig{
			HandlerTimeout: 30 * time.Second,
			ReorderTimeout: 60 * time.Second,
		},
	}
}

func TestValidateStatic_AcceptsValidConfig(t *testing.T) {
	require.NoError(t, ValidateStatic(validTestConfig()))
}

func TestValidateStatic_RejectsRetryBudgetBelowReorderWindow(t *testing.T) {
	// A retry budget shorter than the reorder window dead-letters
	// out-of-order events before their causal predecessor can arrive.
	cfg := validTestConfig()
	cfg.Broker.Kafka.Retry.MaxElapsedTime = 30 * time.Second

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.kafka.retry.max_elapsed_time")
}

func TestValidateStatic_RejectsRetryBudgetEqualToReorderWindow(t *testing.T) {
	cfg := validTestConfig()
	cfg.Broker.Kafka.Retry.MaxElapsedTime = cfg.Saga.ReorderTimeout

	assert.Error(t, ValidateStatic(cfg))
}

func TestValidateStatic_AllowsUnboundedRetryBudget(t *testing.T) {
	// MaxElapsedTime zero means attempts alone bound the retries; the
	// consumer fallback then applies its own budget above the window.
	cfg := validTestConfig()
	cfg.Broker.Kafka.Retry.MaxElapsedTime = 0

	assert.NoError(t, ValidateStatic(cfg))
}

func TestValidateStatic_RejectsMissingDLQTopic(t *testing.T) {
	cfg := validTestConfig()
	cfg.Broker.Kafka.DLQTopic = ""

	err := ValidateStatic(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq_topic")
}
