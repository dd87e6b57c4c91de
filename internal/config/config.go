package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Saga           SagaConfig
	Idempotency    IdempotencyConfig
	Payment        PaymentConfig
	Notification   NotificationConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimit      RateLimitConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
	// AuthToken enables bearer-token auth on the API routes when non-empty.
	AuthToken string `mapstructure:"auth_token"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string    `mapstructure:"brokers"`
	GroupID      string      `mapstructure:"group_id"`
	OrderTopic   string      `mapstructure:"order_topic"`
	PaymentTopic string      `mapstructure:"payment_topic"`
	DLQTopic     string      `mapstructure:"dlq_topic"`
	Retry        RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SagaConfig struct {
	HandlerTimeout       time.Duration `mapstructure:"handler_timeout"`
	ReorderTimeout       time.Duration `mapstructure:"reorder_timeout"`
	VersionRetryAttempts int           `mapstructure:"version_retry_attempts"`
}

type IdempotencyConfig struct {
	// Retention must exceed the broker's maximum redelivery window.
	Retention time.Duration `mapstructure:"retention"`
}

type PaymentConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type NotificationConfig struct {
	MailGatewayURL  string                   `mapstructure:"mail_gateway_url"`
	MailGatewayKey  string                   `mapstructure:"mail_gateway_key"`
	FromAddress     string                   `mapstructure:"from_address"`
	SuppressionRule string                   `mapstructure:"suppression_rule"`
	Routing         []NotificationRuleConfig `mapstructure:"routing"`
}

type NotificationRuleConfig struct {
	Expression string `mapstructure:"expression"`
	Template   string `mapstructure:"template"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
