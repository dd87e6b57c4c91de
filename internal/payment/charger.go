package payment

import (
	"context"

	"github.com/google/uuid"

	"orderflow/internal/logger"
)

// Charger is the gateway-side collaborator that starts a charge. The charge
// outcome arrives asynchronously through the webhook, not from this call.
type Charger interface {
	InitiateCharge(ctx context.Context, orderID string, amount float64, currency string) (paymentID string, err error)
}

// GatewayCharger is a stand-in for the real gateway client: it accepts the
// charge synchronously and assigns a payment id.
type GatewayCharger struct {
	logger logger.Logger
}

func NewGatewayCharger(log logger.Logger) *GatewayCharger {
	return &GatewayCharger{logger: log}
}

func (c *GatewayCharger) InitiateCharge(ctx context.Context, orderID string, amount float64, currency string) (string, error) {
	paymentID := uuid.NewString()
	c.logger.InfowCtx(ctx, "Charge initiated",
		"order_id", orderID,
		"payment_id", paymentID,
		"amount", amount,
		"currency", currency,
	)
	return paymentID, nil
}

var _ Charger = (*GatewayCharger)(nil)
