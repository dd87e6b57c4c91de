package integration

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"orderflow/internal/logger"
	"orderflow/internal/order"
	"orderflow/pkg/models"
)

const containerStartupTimeout = 60

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestOrder() *order.Order {
	return &order.Order{
		ID:            uuid.NewString(),
		CustomerID:    "cust-1",
		CustomerEmail: "customer@example.com",
		Amount:        49.90,
		Currency:      "EUR",
		Status:        order.StatusCreated,
		Version:       0,
	}
}

func createTestEnvelope(t *testing.T, eventType models.EventType, aggregateID string, payload models.Payload) models.Envelope {
	t.Helper()
	env, err := models.Encode(eventType, aggregateID, payload)
	require.NoError(t, err)
	return env
}
