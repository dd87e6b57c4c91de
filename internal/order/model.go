package order

import "time"

type Status string

const (
	StatusCreated        Status = "created"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusFulfilling     Status = "fulfilling"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// rank orders the forward progression of states. Cancellation is a side exit
// and carries no rank.
var rank = map[Status]int{
	StatusCreated:        0,
	StatusPaymentPending: 1,
	StatusPaid:           2,
	StatusFulfilling:     3,
	StatusCompleted:      4,
}

// Before reports whether s precedes other on the forward path. Used to assert
// the no-regression invariant in tests and persistence guards.
func (s Status) Before(other Status) bool {
	sr, ok1 := rank[s]
	or, ok2 := rank[other]
	return ok1 && ok2 && sr < or
}

// Order is the saga's aggregate. Only the order service mutates it; other
// services see projections derived from consumed events. Version increments
// on every transition and backs the optimistic concurrency check.
type Order struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	CustomerEmail string    `json:"customer_email"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
	LastEventID   string    `json:"last_event_id"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
