package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/idempotency"
)

func TestPostgresLedger_MarkIfNew(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	ledger := idempotency.NewPostgresLedger(infra.PostgresDB, 72*time.Hour)

	firstSeen, err := ledger.MarkIfNew(ctx, "order-service", "evt-1")
	require.NoError(t, err)
	assert.True(t, firstSeen)

	firstSeen, err = ledger.MarkIfNew(ctx, "order-service", "evt-1")
	require.NoError(t, err)
	assert.False(t, firstSeen)

	// Same event, different group: independent mark.
	firstSeen, err = ledger.MarkIfNew(ctx, "notification-service", "evt-1")
	require.NoError(t, err)
	assert.True(t, firstSeen)
}

func TestPostgresLedger_Forget(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	ledger := idempotency.NewPostgresLedger(infra.PostgresDB, 72*time.Hour)

	firstSeen, err := ledger.MarkIfNew(ctx, "order-service", "evt-2")
	require.NoError(t, err)
	require.True(t, firstSeen)

	require.NoError(t, ledger.Forget(ctx, "order-service", "evt-2"))

	firstSeen, err = ledger.MarkIfNew(ctx, "order-service", "evt-2")
	require.NoError(t, err)
	assert.True(t, firstSeen)
}

func TestPostgresLedger_SweepRemovesExpiredMarks(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	// Zero retention makes every existing mark immediately sweepable.
	ledger := idempotency.NewPostgresLedger(infra.PostgresDB, 0)

	_, err := ledger.MarkIfNew(ctx, "order-service", "evt-3")
	require.NoError(t, err)
	_, err = ledger.MarkIfNew(ctx, "order-service", "evt-4")
	require.NoError(t, err)

	swept, err := ledger.Sweep(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, swept, int64(2))

	firstSeen, err := ledger.MarkIfNew(ctx, "order-service", "evt-3")
	require.NoError(t, err)
	assert.True(t, firstSeen)
}

func TestRedisLedger_MarkIfNew(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	ctx := context.Background()

	ledger := idempotency.NewRedisLedger(infra.RedisClient, time.Hour)

	firstSeen, err := ledger.MarkIfNew(ctx, "payment-webhook", "gw-evt-1")
	require.NoError(t, err)
	assert.True(t, firstSeen)

	firstSeen, err = ledger.MarkIfNew(ctx, "payment-webhook", "gw-evt-1")
	require.NoError(t, err)
	assert.False(t, firstSeen)

	firstSeen, err = ledger.MarkIfNew(ctx, "payment-service", "gw-evt-1")
	require.NoError(t, err)
	assert.True(t, firstSeen)
}

func TestRedisLedger_ForgetReleasesMark(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	ctx := context.Background()

	ledger := idempotency.NewRedisLedger(infra.RedisClient, time.Hour)

	firstSeen, err := ledger.MarkIfNew(ctx, "payment-webhook", "gw-evt-2")
	require.NoError(t, err)
	require.True(t, firstSeen)

	require.NoError(t, ledger.Forget(ctx, "payment-webhook", "gw-evt-2"))

	firstSeen, err = ledger.MarkIfNew(ctx, "payment-webhook", "gw-evt-2")
	require.NoError(t, err)
	assert.True(t, firstSeen)
}

func TestRedisLedger_MarkExpiresWithRetention(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, false, true)
	ctx := context.Background()

	ledger := idempotency.NewRedisLedger(infra.RedisClient, time.Second)

	firstSeen, err := ledger.MarkIfNew(ctx, "payment-webhook", "gw-evt-3")
	require.NoError(t, err)
	require.True(t, firstSeen)

	time.Sleep(1500 * time.Millisecond)

	firstSeen, err = ledger.MarkIfNew(ctx, "payment-webhook", "gw-evt-3")
	require.NoError(t, err)
	assert.True(t, firstSeen)
}
