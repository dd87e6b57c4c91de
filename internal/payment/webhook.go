package payment

import (
	"context"
	"encoding/json"

	"orderflow/internal/broker"
	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/metrics"
	"orderflow/pkg/models"
)

// GatewayEvent is the payload the payment gateway delivers to the webhook.
// EventID is the gateway's own globally unique delivery identifier.
type GatewayEvent struct {
	EventID   string  `json:"event_id"`
	Type      string  `json:"type"`
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
}

const (
	gatewayStatusSucceeded = "payment.succeeded"
	gatewayStatusFailed    = "payment.failed"

	// maxGatewayEventIDLen caps gateway ids at the boundary. The id becomes
	// the envelope event id and gains derived suffixes downstream, and the
	// ledger column holds 255 characters.
	maxGatewayEventIDLen = 200
)

// WebhookHandler turns verified gateway webhooks into payment.completed /
// payment.failed envelopes. The gateway event id becomes the envelope's
// event id, so a redelivered webhook yields the same envelope identity and
// every downstream ledger deduplicates it naturally.
type WebhookHandler struct {
	verifier     SignatureVerifier
	ledger       idempotency.Ledger
	producer     broker.Producer
	paymentTopic string
	logger       logger.Logger
}

func NewWebhookHandler(verifier SignatureVerifier, ledger idempotency.Ledger, producer broker.Producer, paymentTopic string, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:     verifier,
		ledger:       ledger,
		producer:     producer,
		paymentTopic: paymentTopic,
		logger:       log,
	}
}

// Handle is safe to invoke twice for the same gateway event: the first call
// publishes, later calls are suppressed at this boundary.
func (h *WebhookHandler) Handle(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if !h.verifier.Verify(rawBody, signatureHeader) {
		metrics.WebhooksTotal.WithLabelValues("signature_invalid").Inc()
		return apperrors.ErrSignatureInvalid
	}

	var event GatewayEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return apperrors.Wrap(err, apperrors.ErrMalformedPayload)
	}
	if event.EventID == "" || event.OrderID == "" {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return apperrors.ErrMalformedPayload.WithDetail("message", "gateway event is missing event_id or order_id")
	}
	if len(event.EventID) > maxGatewayEventIDLen {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return apperrors.ErrMalformedPayload.
			WithDetail("message", "gateway event_id exceeds maximum length").
			WithDetail("max_length", maxGatewayEventIDLen)
	}

	env, err := h.buildEnvelope(event)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return err
	}

	firstSeen, err := h.ledger.MarkIfNew(ctx, constants.ConsumerGroupWebhook, event.EventID)
	if err != nil {
		return err
	}
	if !firstSeen {
		metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
		h.logger.InfowCtx(ctx, "Duplicate webhook delivery suppressed",
			"gateway_event_id", event.EventID,
			"order_id", event.OrderID,
		)
		return nil
	}

	if err := h.producer.Publish(ctx, h.paymentTopic, env); err != nil {
		// The publish never happened; release the mark so the gateway's next
		// redelivery can try again.
		if forgetErr := h.ledger.Forget(ctx, constants.ConsumerGroupWebhook, event.EventID); forgetErr != nil {
			h.logger.ErrorwCtx(ctx, "Failed to release webhook ledger mark",
				"error", forgetErr,
				"gateway_event_id", event.EventID,
			)
		}
		return err
	}

	metrics.WebhooksTotal.WithLabelValues("published").Inc()
	h.logger.InfowCtx(ctx, "Webhook published",
		"gateway_event_id", event.EventID,
		"order_id", event.OrderID,
		"event_type", string(env.EventType),
	)
	return nil
}

func (h *WebhookHandler) buildEnvelope(event GatewayEvent) (models.Envelope, error) {
	var payload models.Payload
	switch event.Type {
	case gatewayStatusSucceeded:
		payload = models.PaymentCompleted{
			OrderID:        event.OrderID,
			PaymentID:      event.PaymentID,
			GatewayEventID: event.EventID,
			Amount:         event.Amount,
		}
	case gatewayStatusFailed:
		payload = models.PaymentFailed{
			OrderID:        event.OrderID,
			PaymentID:      event.PaymentID,
			GatewayEventID: event.EventID,
			Reason:         event.Reason,
		}
	default:
		return models.Envelope{}, apperrors.ErrMalformedPayload.
			WithDetail("message", "unknown gateway event type").
			WithDetail("type", event.Type)
	}

	return models.NewEnvelopeBuilder().
		WithEventID(event.EventID).
		WithAggregateID(event.OrderID).
		WithPayload(payload).
		Build()
}
