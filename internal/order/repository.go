package order

import (
	"context"
	"database/sql"
	"fmt"

	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	apperrors "orderflow/pkg/errors"
)

// Repository persists the order aggregate. Writes use compare-and-set on the
// version column rather than locks: the partition owner is normally the only
// writer for an aggregate, so conflicts are rare and retried by the caller.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)

	// ApplyTransition moves the order to a new status and marks the event as
	// processed for the consumer group, both inside one transaction. Returns
	// VERSION_CONFLICT when expectedVersion no longer matches, and
	// firstSeen=false (no error) when the event id was already recorded.
	ApplyTransition(ctx context.Context, id string, expectedVersion int64, next Status, group, eventID string) (firstSeen bool, err error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, o *Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, customer_email, amount, currency, status, last_event_id, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		o.ID, o.CustomerID, o.CustomerEmail, o.Amount, o.Currency, o.Status, o.LastEventID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_id, customer_email, amount, currency, status, last_event_id, version, created_at, updated_at
		 FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.CustomerID, &o.CustomerEmail, &o.Amount, &o.Currency, &o.Status, &o.LastEventID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return &o, nil
}

func (r *PostgresRepository) ApplyTransition(ctx context.Context, id string, expectedVersion int64, next Status, group, eventID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	firstSeen, err := idempotency.MarkIfNewTx(ctx, tx, group, eventID)
	if err != nil {
		return false, err
	}
	if !firstSeen {
		// Duplicate delivery: commit nothing new, report already-applied.
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit duplicate check: %w", err)
		}
		return false, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, last_event_id = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $3 AND version = $4`,
		next, eventID, id, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Another writer moved the aggregate first. Rolling back also undoes
		// the idempotency mark, so the caller can re-read and reapply.
		return false, apperrors.ErrVersionConflict.
			WithDetail("order_id", id).
			WithDetail("expected_version", expectedVersion)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

var _ Repository = (*PostgresRepository)(nil)

// ConsumerGroup is the ledger scope for saga transitions applied by the
// order service.
const ConsumerGroup = constants.ConsumerGroupOrder
