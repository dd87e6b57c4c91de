package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/order"
	"orderflow/pkg/models"
)

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine()

	next, err := m.Next(order.StatusCreated, models.EventPaymentInitiated)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaymentPending, next)

	next, err = m.Next(order.StatusPaymentPending, models.EventPaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, next)

	next, err = m.Next(order.StatusPaid, models.EventOrderPaid)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFulfilling, next)
}

func TestMachine_PaymentCompletedSkipsPending(t *testing.T) {
	// payment.completed may overtake payment.initiated; the saga accepts it
	// straight from created.
	m := NewMachine()

	next, err := m.Next(order.StatusCreated, models.EventPaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, next)
}

func TestMachine_PaymentFailedCancels(t *testing.T) {
	m := NewMachine()

	for _, current := range []order.Status{order.StatusCreated, order.StatusPaymentPending, order.StatusPaid} {
		next, err := m.Next(current, models.EventPaymentFailed)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, next)
	}
}

func TestMachine_LateRefundCancelsPaidOrder(t *testing.T) {
	// payment.failed after payment.completed is the gateway reversing a
	// settled payment. Before fulfillment starts the order can still exit.
	m := NewMachine()

	next, err := m.Next(order.StatusPaid, models.EventPaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, next)
}

func TestMachine_PaymentFailedWhileFulfillingIsNoOp(t *testing.T) {
	m := NewMachine()

	next, err := m.Next(order.StatusFulfilling, models.EventPaymentFailed)
	assert.ErrorIs(t, err, ErrNoOp)
	assert.Equal(t, order.StatusFulfilling, next)
}

func TestMachine_TerminalStatesAbsorbEverything(t *testing.T) {
	m := NewMachine()

	events := []models.EventType{
		models.EventPaymentInitiated,
		models.EventPaymentCompleted,
		models.EventPaymentFailed,
		models.EventOrderPaid,
	}

	for _, terminal := range []order.Status{order.StatusCompleted, order.StatusCancelled} {
		for _, event := range events {
			next, err := m.Next(terminal, event)
			assert.ErrorIs(t, err, ErrNoOp, "event %s in state %s", event, terminal)
			assert.Equal(t, terminal, next)
		}
	}
}

func TestMachine_OrderPaidBeforePaidIsOutOfOrder(t *testing.T) {
	m := NewMachine()

	for _, current := range []order.Status{order.StatusCreated, order.StatusPaymentPending} {
		_, err := m.Next(current, models.EventOrderPaid)
		assert.ErrorIs(t, err, ErrOutOfOrder)
	}
}

func TestMachine_OrderPaidWhileFulfillingResumes(t *testing.T) {
	m := NewMachine()

	next, err := m.Next(order.StatusFulfilling, models.EventOrderPaid)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFulfilling, next)
}

func TestMachine_DuplicatePaymentInitiatedIsNoOp(t *testing.T) {
	m := NewMachine()

	next, err := m.Next(order.StatusPaymentPending, models.EventPaymentInitiated)
	assert.ErrorIs(t, err, ErrNoOp)
	assert.Equal(t, order.StatusPaymentPending, next)
}

func TestMachine_NeverRegresses(t *testing.T) {
	m := NewMachine()

	states := []order.Status{
		order.StatusCreated,
		order.StatusPaymentPending,
		order.StatusPaid,
		order.StatusFulfilling,
		order.StatusCompleted,
		order.StatusCancelled,
	}

	for _, current := range states {
		for _, event := range []models.EventType{
			models.EventPaymentInitiated,
			models.EventPaymentCompleted,
			models.EventPaymentFailed,
			models.EventOrderPaid,
			models.EventOrderCompleted,
		} {
			next, err := m.Next(current, event)
			if err != nil {
				continue
			}
			assert.False(t, next.Before(current),
				"event %s moved %s backward to %s", event, current, next)
		}
	}
}
