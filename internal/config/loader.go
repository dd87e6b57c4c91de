package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.order_topic", "order.events")
	viper.SetDefault("broker.kafka.payment_topic", "payment.events")
	viper.SetDefault("broker.kafka.dlq_topic", "saga.deadletter")
	// The retry budget must outlast saga.reorder_timeout: an out-of-order
	// event survives only as long as the broker keeps redelivering it.
	viper.SetDefault("broker.kafka.retry.max_attempts", 12)
	viper.SetDefault("broker.kafka.retry.initial_interval", "1s")
	viper.SetDefault("broker.kafka.retry.max_interval", "30s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)
	viper.SetDefault("broker.kafka.retry.max_elapsed_time", "5m")
	viper.SetDefault("saga.handler_timeout", "30s")
	viper.SetDefault("saga.reorder_timeout", "60s")
	viper.SetDefault("saga.version_retry_attempts", 5)
	viper.SetDefault("idempotency.retention", "72h")
	viper.SetDefault("logging.level", "info")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.order_topic", "BROKER_KAFKA_ORDER_TOPIC")
	viper.BindEnv("broker.kafka.payment_topic", "BROKER_KAFKA_PAYMENT_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")
	viper.BindEnv("server.auth_token", "SERVER_AUTH_TOKEN")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("payment.webhook_secret", "PAYMENT_WEBHOOK_SECRET")
	viper.BindEnv("notification.mail_gateway_url", "NOTIFICATION_MAIL_GATEWAY_URL")
	viper.BindEnv("notification.mail_gateway_key", "NOTIFICATION_MAIL_GATEWAY_KEY")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}
