package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Querier is satisfied by *sql.DB and *sql.Tx. The saga handler passes its
// transaction so the duplicate mark commits atomically with the order state
// transition; there is no window where a side effect applied but the marker
// is missing.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresLedger persists marks in processed_events with the composite
// primary key (consumer_group, event_id). Records are insert-only.
type PostgresLedger struct {
	db        *sql.DB
	retention time.Duration
}

func NewPostgresLedger(db *sql.DB, retention time.Duration) *PostgresLedger {
	return &PostgresLedger{db: db, retention: retention}
}

func (l *PostgresLedger) MarkIfNew(ctx context.Context, group, eventID string) (bool, error) {
	return MarkIfNewTx(ctx, l.db, group, eventID)
}

// MarkIfNewTx runs the mark against an arbitrary execution surface, usually
// the transaction carrying the state transition.
func MarkIfNewTx(ctx context.Context, q Querier, group, eventID string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO processed_events (consumer_group, event_id, processed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (consumer_group, event_id) DO NOTHING`,
		group, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("insert processed_events: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	firstSeen := inserted == 1
	recordCheck(group, firstSeen)
	return firstSeen, nil
}

func (l *PostgresLedger) Forget(ctx context.Context, group, eventID string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE consumer_group = $1 AND event_id = $2`,
		group, eventID,
	)
	if err != nil {
		return fmt.Errorf("delete processed_events: %w", err)
	}
	return nil
}

// Sweep garbage-collects marks older than the retention window. Safe to run
// periodically: anything old enough to be swept is past the broker's maximum
// redelivery window.
func (l *PostgresLedger) Sweep(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`,
		time.Now().Add(-l.retention),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep processed_events: %w", err)
	}
	return res.RowsAffected()
}

var _ Ledger = (*PostgresLedger)(nil)
