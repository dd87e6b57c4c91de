package idempotency

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"orderflow/internal/config"
	"orderflow/pkg/circuitbreaker"
)

// CircuitBreakerLedger shields consumers from a struggling redis. While the
// breaker is open, checks fail fast and the message is redelivered later
// instead of piling work onto the backend.
type CircuitBreakerLedger struct {
	ledger Ledger
	cb     *circuitbreaker.Wrapper
}

func NewCircuitBreakerLedger(ledger Ledger, cfg config.CircuitBreakerConfig) *CircuitBreakerLedger {
	if !cfg.Enabled {
		return &CircuitBreakerLedger{ledger: ledger}
	}

	cbConfig := circuitbreaker.DefaultConfig("idempotency-ledger")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerLedger{
		ledger: ledger,
		cb:     circuitbreaker.NewWrapper(cbConfig),
	}
}

func (l *CircuitBreakerLedger) MarkIfNew(ctx context.Context, group, eventID string) (bool, error) {
	if l.cb == nil {
		return l.ledger.MarkIfNew(ctx, group, eventID)
	}

	result, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return l.ledger.MarkIfNew(ctx, group, eventID)
	})

	l.cb.RecordRequest(err == nil)

	if err != nil {
		if l.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for idempotency ledger: %w", err)
		}
		return false, err
	}

	firstSeen, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("ledger returned invalid result type")
	}

	return firstSeen, nil
}

func (l *CircuitBreakerLedger) Forget(ctx context.Context, group, eventID string) error {
	if l.cb == nil {
		return l.ledger.Forget(ctx, group, eventID)
	}

	_, err := l.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, l.ledger.Forget(ctx, group, eventID)
	})

	l.cb.RecordRequest(err == nil)

	if err != nil && l.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for idempotency ledger: %w", err)
	}
	return err
}

func (l *CircuitBreakerLedger) State() string {
	if l.cb == nil {
		return "disabled"
	}
	return l.cb.State().String()
}

var _ Ledger = (*CircuitBreakerLedger)(nil)
