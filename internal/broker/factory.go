package broker

import (
	"fmt"

	"orderflow/internal/config"
	"orderflow/internal/logger"
)

const brokerKafka = "kafka"

// NewProducer builds the producer for the configured broker type. Kafka is
// the only transport today; the indirection keeps call sites on the
// Producer interface so another transport stays a config change.
func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if cfg.Type != brokerKafka {
		return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if cfg.Type != brokerKafka {
		return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}
