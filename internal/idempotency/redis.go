package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orderflow/internal/constants"
)

// RedisLedger backs consumers whose side effects live outside the order
// database (webhook publishes, email sends). Retention acts as garbage
// collection and must outlive the broker's maximum redelivery window.
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisLedger(client *redis.Client, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = constants.DefaultLedgerRetention
	}
	return &RedisLedger{client: client, retention: retention}
}

func (l *RedisLedger) MarkIfNew(ctx context.Context, group, eventID string) (bool, error) {
	key := ledgerKey(group, eventID)
	firstSeen, err := l.client.SetNX(ctx, key, time.Now().Unix(), l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed for %s: %w", key, err)
	}
	recordCheck(group, firstSeen)
	return firstSeen, nil
}

func (l *RedisLedger) Forget(ctx context.Context, group, eventID string) error {
	if err := l.client.Del(ctx, ledgerKey(group, eventID)).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

func ledgerKey(group, eventID string) string {
	return constants.LedgerKeyPrefix + group + ":" + eventID
}

var _ Ledger = (*RedisLedger)(nil)
