package saga

import (
	"errors"

	"orderflow/internal/order"
	"orderflow/pkg/models"
)

var (
	// ErrNoOp means the event carries no new information for the current
	// state (duplicate or stale delivery). Acknowledge and move on.
	ErrNoOp = errors.New("no applicable transition")

	// ErrOutOfOrder means the event arrived before its causal predecessor.
	// The caller holds it in the reorder buffer and relies on redelivery.
	ErrOutOfOrder = errors.New("event causally out of order")
)

// Machine is the pure transition table for the order saga:
//
//	created → payment_pending → paid → fulfilling → completed
//	created/payment_pending/paid → cancelled
//
// completed and cancelled are terminal. The table never moves a state
// backward, which is what makes replayed deliveries safe to apply twice.
type Machine struct{}

func NewMachine() *Machine {
	return &Machine{}
}

// Next returns the state an event moves the order into. Terminal states
// absorb everything as a no-op.
func (m *Machine) Next(current order.Status, eventType models.EventType) (order.Status, error) {
	if current.Terminal() {
		return current, ErrNoOp
	}

	switch eventType {
	case models.EventPaymentInitiated:
		if current == order.StatusCreated {
			return order.StatusPaymentPending, nil
		}
		// Informational event arriving after the payment already resolved.
		return current, ErrNoOp

	case models.EventPaymentCompleted:
		switch current {
		case order.StatusCreated, order.StatusPaymentPending:
			return order.StatusPaid, nil
		default:
			return current, ErrNoOp
		}

	case models.EventPaymentFailed:
		switch current {
		case order.StatusCreated, order.StatusPaymentPending:
			return order.StatusCancelled, nil
		case order.StatusPaid:
			// A failure arriving after the payment settled is the gateway
			// reversing it (late refund). Fulfillment has not started yet, so
			// the order can still exit to cancelled.
			return order.StatusCancelled, nil
		default:
			return current, ErrNoOp
		}

	case models.EventOrderPaid:
		switch current {
		case order.StatusPaid:
			return order.StatusFulfilling, nil
		case order.StatusFulfilling:
			// Redelivery mid-fulfillment: resume rather than restart.
			return order.StatusFulfilling, nil
		default:
			// order.paid observed before the paid transition landed.
			return current, ErrOutOfOrder
		}

	default:
		return current, ErrNoOp
	}
}
