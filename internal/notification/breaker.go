package notification

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"orderflow/internal/config"
	"orderflow/pkg/circuitbreaker"
)

// CircuitBreakerMailer fails fast while the mail gateway is down, so the
// dispatcher surrenders the message to redelivery instead of burning its
// handler deadline on a dead endpoint.
type CircuitBreakerMailer struct {
	mailer Mailer
	cb     *circuitbreaker.Wrapper
}

func NewCircuitBreakerMailer(mailer Mailer, cfg config.CircuitBreakerConfig) *CircuitBreakerMailer {
	if !cfg.Enabled {
		return &CircuitBreakerMailer{mailer: mailer}
	}

	cbConfig := circuitbreaker.DefaultConfig("mail-gateway")
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

	return &CircuitBreakerMailer{
		mailer: mailer,
		cb:     circuitbreaker.NewWrapper(cbConfig),
	}
}

func (m *CircuitBreakerMailer) SendTransactional(ctx context.Context, template, recipient string, data map[string]interface{}) error {
	if m.cb == nil {
		return m.mailer.SendTransactional(ctx, template, recipient, data)
	}

	_, err := m.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, m.mailer.SendTransactional(ctx, template, recipient, data)
	})

	m.cb.RecordRequest(err == nil)

	if err != nil && m.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for mail-gateway: %w", err)
	}
	return err
}

var _ Mailer = (*CircuitBreakerMailer)(nil)
