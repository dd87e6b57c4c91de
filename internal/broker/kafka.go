package broker

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/logger"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/models"
	"orderflow/pkg/retry"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// Hash on the message key: all events for one aggregate land on one
		// partition, which is what makes the per-order ordering guarantee hold.
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish blocks until all in-sync replicas acknowledge the write. Broker
// unreachability is retried with full-jitter backoff; once the budget is
// exhausted the caller gets PUBLISH_ERROR.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, env models.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrMalformedPayload)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(env.AggregateID),
		Value: body,
		Time:  time.Now(),
	}

	err = retry.RetryWithCallback(ctx, retry.PublishPolicy(), func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, func(attempt int, retryErr error, nextDelay time.Duration) {
		metrics.PublishRetriesTotal.WithLabelValues(topic).Inc()
		p.logger.WarnwCtx(ctx, "Retrying publish",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", retryErr,
			"topic", topic,
		)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrPublish).WithDetail("topic", topic)
	}

	metrics.PublishedEventsTotal.WithLabelValues(topic, string(env.EventType)).Inc()
	return nil
}

func (p *KafkaProducer) publishRaw(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrPublish).WithDetail("topic", topic)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer *KafkaProducer
	serviceName string

	handlerTimeout time.Duration
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:            cfg,
		logger:         log,
		dlqProducer:    NewKafkaProducer(cfg, log),
		serviceName:    "unknown",
		handlerTimeout: constants.DefaultHandlerTimeout,
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *KafkaConsumer) SetHandlerTimeout(d time.Duration) {
	if d > 0 {
		c.handlerTimeout = d
	}
}

// Consume runs a single fetch loop, so handler invocations for one partition
// are strictly serial. Scale-out across partitions happens by running more
// consumer instances in the same group.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			c.handleFetched(ctx, consumeCtx, topic, m, handler)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handleFetched(ctx, consumeCtx context.Context, topic string, m kafka.Message, handler HandlerFunc) {
	env, err := models.Decode(m.Value)
	if err != nil {
		// Undecodable bytes never get better on redelivery: straight to the
		// dead-letter topic, alert via log, then commit.
		c.logger.ErrorwCtx(consumeCtx, "Failed to decode message, dead-lettering",
			"error", err,
			"topic", topic,
		)
		c.deadLetter(consumeCtx, topic, m.Key, m.Value, constants.DLQReasonDecodeFailed, err, &m)
		return
	}

	msgCtx := logging.WithEventID(consumeCtx, env.EventID)
	msgCtx = logging.WithAggregateID(msgCtx, env.AggregateID)

	start := time.Now()
	err = c.processWithRetry(msgCtx, env, handler, topic)
	metrics.ObserveHandlerDuration(c.serviceName, topic, time.Since(start))

	if err != nil {
		metrics.ConsumedEventsTotal.WithLabelValues(c.serviceName, topic, "dead_letter").Inc()
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
			"error", err,
			"topic", topic,
		)
		c.deadLetter(msgCtx, topic, m.Key, m.Value, dlqReason(err), err, &m)
		return
	}

	metrics.ConsumedEventsTotal.WithLabelValues(c.serviceName, topic, "processed").Inc()
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", topic,
		)
	}
}

// deadLetter publishes the raw message to the DLQ and only then commits the
// offset. If the DLQ publish itself fails the offset stays uncommitted, so
// the message is redelivered rather than silently dropped.
func (c *KafkaConsumer) deadLetter(ctx context.Context, sourceTopic string, key, value []byte, reason string, cause error, m *kafka.Message) {
	headers := []kafka.Header{
		{Key: "dlq_reason", Value: []byte(reason)},
		{Key: "dlq_source_topic", Value: []byte(sourceTopic)},
		{Key: "dlq_service", Value: []byte(c.serviceName)},
		{Key: "dlq_error", Value: []byte(cause.Error())},
		{Key: "dlq_timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	}

	if err := c.dlqProducer.publishRaw(ctx, c.cfg.DLQTopic, key, value, headers); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ, leaving uncommitted",
			"error", err,
			"topic", sourceTopic,
			"dlq_topic", c.cfg.DLQTopic,
		)
		return
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, reason).Inc()
	c.logger.WarnwCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
	)

	if err := c.reader.CommitMessages(ctx, *m); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to commit dead-lettered message",
			"error", err,
			"topic", sourceTopic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil {
			if err == nil {
				err = closeErr
			}
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) processWithRetry(ctx context.Context, env models.Envelope, handler HandlerFunc, topic string) error {
	// The fallback budget must span the saga's reorder window: out-of-order
	// events are held purely by redelivery, so exhausting retries early
	// dead-letters them before their causal predecessor can land.
	policy := retry.Policy{
		MaxAttempts:     12,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
		}()
		return c.invokeWithDeadline(ctx, env, handler)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

// invokeWithDeadline bounds a single handler invocation. A handler that runs
// past the deadline counts as a transient failure and is redelivered.
func (c *KafkaConsumer) invokeWithDeadline(ctx context.Context, env models.Envelope, handler HandlerFunc) error {
	handlerCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()

	err := handler(handlerCtx, env)
	if err != nil && handlerCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return apperrors.Wrap(err, apperrors.ErrHandlerTimeout)
	}
	return err
}

func dlqReason(err error) string {
	if apperrors.Code(err) == apperrors.ErrDeadLetter.Code {
		return constants.DLQReasonReorderTimeout
	}
	return constants.DLQReasonMaxRetriesExceeded
}

var _ Producer = (*KafkaProducer)(nil)
var _ Consumer = (*KafkaConsumer)(nil)
