package payment

import (
	"context"

	"orderflow/internal/broker"
	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	"orderflow/pkg/models"
)

// ChargeConsumer reacts to order.created by initiating a charge with the
// gateway, exactly once per order, and announcing it with payment.initiated.
type ChargeConsumer struct {
	ledger       idempotency.Ledger
	charger      Charger
	producer     broker.Producer
	paymentTopic string
	logger       logger.Logger
}

func NewChargeConsumer(ledger idempotency.Ledger, charger Charger, producer broker.Producer, paymentTopic string, log logger.Logger) *ChargeConsumer {
	return &ChargeConsumer{
		ledger:       ledger,
		charger:      charger,
		producer:     producer,
		paymentTopic: paymentTopic,
		logger:       log,
	}
}

func (c *ChargeConsumer) Handle(ctx context.Context, env models.Envelope) error {
	if env.EventType != models.EventOrderCreated {
		return nil
	}

	created, ok := env.Payload.(models.OrderCreated)
	if !ok {
		// Decode already validated the union; this is a programming error.
		c.logger.ErrorwCtx(ctx, "Unexpected payload type for order.created")
		return nil
	}

	// Guard against a second charge attempt for the same delivery.
	firstSeen, err := c.ledger.MarkIfNew(ctx, constants.ConsumerGroupPayment, env.EventID)
	if err != nil {
		return err
	}
	if !firstSeen {
		c.logger.InfowCtx(ctx, "Charge already attempted, skipping",
			"order_id", created.OrderID,
		)
		return nil
	}

	paymentID, err := c.charger.InitiateCharge(ctx, created.OrderID, created.Amount, created.Currency)
	if err != nil {
		// The charge never started; release the mark so redelivery retries.
		if forgetErr := c.ledger.Forget(ctx, constants.ConsumerGroupPayment, env.EventID); forgetErr != nil {
			c.logger.ErrorwCtx(ctx, "Failed to release charge attempt mark",
				"error", forgetErr,
				"order_id", created.OrderID,
			)
		}
		return err
	}

	out, err := models.Encode(models.EventPaymentInitiated, created.OrderID, models.PaymentInitiated{
		OrderID:   created.OrderID,
		PaymentID: paymentID,
		Amount:    created.Amount,
	})
	if err != nil {
		return err
	}

	// payment.initiated is informational; the authoritative outcome arrives
	// via the gateway webhook.
	return c.producer.Publish(ctx, c.paymentTopic, out)
}
