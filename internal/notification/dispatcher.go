package notification

import (
	"context"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	"orderflow/pkg/cel"
	"orderflow/pkg/metrics"
	"orderflow/pkg/models"
)

const (
	TemplateOrderPaid      = "order_receipt"
	TemplateOrderCancelled = "order_cancelled"
)

// Dispatcher is a side consumer of the order topic: it reacts to terminal
// saga events by sending transactional email. It shares the topic with the
// order service's own consumers but runs in its own consumer group, so mail
// trouble never holds up order-state progression.
type Dispatcher struct {
	ledger    idempotency.Ledger
	mailer    Mailer
	receipts  ReceiptStore
	evaluator *cel.Evaluator
	cfg       config.NotificationConfig
	logger    logger.Logger
}

func NewDispatcher(ledger idempotency.Ledger, mailer Mailer, receipts ReceiptStore, evaluator *cel.Evaluator, cfg config.NotificationConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:    ledger,
		mailer:    mailer,
		receipts:  receipts,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    log,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, env models.Envelope) error {
	recipient, data, template := d.classify(env)
	if template == "" {
		return nil
	}

	if suppressed, err := d.suppressed(ctx, env); err != nil {
		d.logger.WarnwCtx(ctx, "Suppression rule failed, sending anyway",
			"error", err,
		)
	} else if suppressed {
		d.logger.InfowCtx(ctx, "Notification suppressed by rule",
			"event_type", string(env.EventType),
		)
		return nil
	}

	if routed, err := d.route(ctx, env); err != nil {
		d.logger.WarnwCtx(ctx, "Routing rule failed, using default template",
			"error", err,
		)
	} else if routed != "" {
		template = routed
	}

	firstSeen, err := d.ledger.MarkIfNew(ctx, constants.ConsumerGroupNotification, env.EventID)
	if err != nil {
		return err
	}
	if !firstSeen {
		d.logger.InfowCtx(ctx, "Notification already sent, skipping",
			"event_type", string(env.EventType),
		)
		return nil
	}

	if err := d.mailer.SendTransactional(ctx, template, recipient, data); err != nil {
		metrics.NotificationsTotal.WithLabelValues(template, "failed").Inc()
		// The send did not happen; release the mark so redelivery can retry.
		if forgetErr := d.ledger.Forget(ctx, constants.ConsumerGroupNotification, env.EventID); forgetErr != nil {
			d.logger.ErrorwCtx(ctx, "Failed to release notification mark",
				"error", forgetErr,
			)
		}
		return err
	}

	metrics.NotificationsTotal.WithLabelValues(template, "sent").Inc()
	d.logger.InfowCtx(ctx, "Notification sent",
		"template", template,
		"recipient", recipient,
	)

	// The receipt is an audit record; a write failure must not trigger a
	// resend of an already-delivered email.
	if err := d.receipts.Record(ctx, Receipt{
		EventID:   env.EventID,
		OrderID:   env.AggregateID,
		Template:  template,
		Recipient: recipient,
		SentAt:    time.Now().UTC(),
	}); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to record notification receipt",
			"error", err,
		)
	}

	return nil
}

// classify maps terminal saga events to a default template and the data the
// template renders. Other event types produce no notification.
func (d *Dispatcher) classify(env models.Envelope) (recipient string, data map[string]interface{}, template string) {
	switch payload := env.Payload.(type) {
	case models.OrderPaid:
		return payload.CustomerEmail, map[string]interface{}{
			"order_id":   payload.OrderID,
			"payment_id": payload.PaymentID,
			"amount":     payload.Amount,
		}, TemplateOrderPaid
	case models.OrderCancelled:
		return payload.CustomerEmail, map[string]interface{}{
			"order_id": payload.OrderID,
			"reason":   payload.Reason,
		}, TemplateOrderCancelled
	default:
		return "", nil, ""
	}
}

func (d *Dispatcher) suppressed(ctx context.Context, env models.Envelope) (bool, error) {
	if d.cfg.SuppressionRule == "" || d.evaluator == nil {
		return false, nil
	}
	return d.evaluator.EvaluateRule(ctx, d.cfg.SuppressionRule, env)
}

// route returns the template of the first matching routing rule, or empty to
// keep the default.
func (d *Dispatcher) route(ctx context.Context, env models.Envelope) (string, error) {
	if d.evaluator == nil {
		return "", nil
	}
	for _, rule := range d.cfg.Routing {
		matched, err := d.evaluator.EvaluateRule(ctx, rule.Expression, env)
		if err != nil {
			return "", err
		}
		if matched {
			return rule.Template, nil
		}
	}
	return "", nil
}
