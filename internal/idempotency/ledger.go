package idempotency

import (
	"context"

	"orderflow/pkg/metrics"
)

// Ledger records which event ids a consumer group has already applied, so
// at-least-once redeliveries do not reapply side effects. Each consumer group
// tracks duplicates independently: the composite key is (group, eventID).
type Ledger interface {
	// MarkIfNew records the pair and reports true when it was not present.
	// A false return means the side effects for this event already ran.
	MarkIfNew(ctx context.Context, group, eventID string) (bool, error)

	// Forget removes a mark. Used as compensation when a side effect fails
	// after the mark was taken, so a redelivery can try again.
	Forget(ctx context.Context, group, eventID string) error
}

func recordCheck(group string, firstSeen bool) {
	outcome := "duplicate"
	if firstSeen {
		outcome = "first"
	}
	metrics.IdempotencyChecksTotal.WithLabelValues(group, outcome).Inc()
}
