package saga

import (
	"context"

	"orderflow/internal/logger"
)

// NoopFulfiller stands in for the external fulfillment system. Real
// deployments swap in a client for the warehouse/fulfillment API.
type NoopFulfiller struct {
	logger logger.Logger
}

func NewNoopFulfiller(log logger.Logger) *NoopFulfiller {
	return &NoopFulfiller{logger: log}
}

func (f *NoopFulfiller) Fulfill(ctx context.Context, orderID string) error {
	f.logger.InfowCtx(ctx, "Fulfillment accepted",
		"order_id", orderID,
	)
	return nil
}

var _ Fulfiller = (*NoopFulfiller)(nil)
