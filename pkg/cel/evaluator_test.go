package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/pkg/models"
)

func testEnvelope(t *testing.T) models.Envelope {
	t.Helper()
	env, err := models.Encode(models.EventOrderPaid, "order-1", models.OrderPaid{
		OrderID:       "order-1",
		PaymentID:     "pay-1",
		CustomerEmail: "a@example.com",
		Amount:        1500,
	})
	require.NoError(t, err)
	return env
}

func TestValidateExpression(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, e.ValidateExpression(`event_type == "order.paid"`))
	assert.NoError(t, e.ValidateExpression(`payload.amount > 100.0`))

	// Non-bool output is rejected.
	assert.Error(t, e.ValidateExpression(`payload.amount`))

	// Syntax errors are rejected.
	assert.Error(t, e.ValidateExpression(`event_type ==`))

	// Unknown variables are rejected at compile time.
	assert.Error(t, e.ValidateExpression(`unknown_var == "x"`))
}

func TestEvaluateRule(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()
	env := testEnvelope(t)

	matched, err := e.EvaluateRule(ctx, `event_type == "order.paid" && payload.amount >= 1000.0`, env)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = e.EvaluateRule(ctx, `payload.amount < 1000.0`, env)
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = e.EvaluateRule(ctx, `aggregate_id == "order-1"`, env)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestEvaluateRule_MissingPayloadFieldErrors(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	_, err = e.EvaluateRule(context.Background(), `payload.missing == "x"`, testEnvelope(t))
	assert.Error(t, err)
}
