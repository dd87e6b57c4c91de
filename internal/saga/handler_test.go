package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/logger"
	"orderflow/internal/order"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/models"
)

type fakeRepo struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	processed map[string]bool

	// conflictsLeft injects version conflicts on the next N ApplyTransition
	// calls to exercise the retry loop.
	conflictsLeft int
	applyCalls    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:    make(map[string]*order.Order),
		processed: make(map[string]bool),
	}
}

func (r *fakeRepo) Create(ctx context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) ApplyTransition(ctx context.Context, id string, expectedVersion int64, next order.Status, group, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applyCalls++
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		return false, apperrors.ErrVersionConflict
	}

	key := group + "/" + eventID
	if r.processed[key] {
		return false, nil
	}

	o, ok := r.orders[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	if o.Version != expectedVersion {
		return false, apperrors.ErrVersionConflict
	}

	r.processed[key] = true
	o.Status = next
	o.LastEventID = eventID
	o.Version++
	return true, nil
}

func (r *fakeRepo) markProcessed(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[order.ConsumerGroup+"/"+eventID] = true
}

func (r *fakeRepo) status(id string) order.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

type published struct {
	topic string
	env   models.Envelope
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, env: env})
	return nil
}

func (p *fakePublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.env.EventType
	}
	return out
}

type fakeFulfiller struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFulfiller) Fulfill(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func newTestHandler(t *testing.T) (*Handler, *fakeRepo, *fakePublisher, *fakeFulfiller) {
	t.Helper()
	repo := newFakeRepo()
	pub := &fakePublisher{}
	ful := &fakeFulfiller{}
	h := NewHandler(repo, pub, ful, Config{
		OrderTopic:     "order.events",
		VersionRetries: 5,
		ReorderTimeout: time.Minute,
	}, logger.NopLogger())
	return h, repo, pub, ful
}

func seedOrder(t *testing.T, repo *fakeRepo, status order.Status, version int64) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:            "order-1",
		CustomerID:    "cust-1",
		CustomerEmail: "a@example.com",
		Amount:        25,
		Currency:      "EUR",
		Status:        status,
		Version:       version,
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func mustEncode(t *testing.T, eventType models.EventType, aggregateID string, payload models.Payload) models.Envelope {
	t.Helper()
	env, err := models.Encode(eventType, aggregateID, payload)
	require.NoError(t, err)
	return env
}

func TestHandler_FullSagaFlow(t *testing.T) {
	h, repo, pub, ful := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusCreated, 0)

	initiated := mustEncode(t, models.EventPaymentInitiated, "order-1", models.PaymentInitiated{
		OrderID: "order-1", PaymentID: "pay-1", Amount: 25,
	})
	require.NoError(t, h.Handle(ctx, initiated))
	assert.Equal(t, order.StatusPaymentPending, repo.status("order-1"))

	completed := mustEncode(t, models.EventPaymentCompleted, "order-1", models.PaymentCompleted{
		OrderID: "order-1", PaymentID: "pay-1", GatewayEventID: "gw-1", Amount: 25,
	})
	require.NoError(t, h.Handle(ctx, completed))
	assert.Equal(t, order.StatusPaid, repo.status("order-1"))
	require.Equal(t, []models.EventType{models.EventOrderPaid}, pub.types())

	// Feed the emitted order.paid back through the handler.
	require.NoError(t, h.Handle(ctx, pub.events[0].env))
	assert.Equal(t, order.StatusCompleted, repo.status("order-1"))
	assert.Equal(t, 1, ful.calls)
	assert.Equal(t, []models.EventType{models.EventOrderPaid, models.EventOrderCompleted}, pub.types())
}

func TestHandler_IgnoresNonSagaEvents(t *testing.T) {
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusCreated, 0)

	created := mustEncode(t, models.EventOrderCreated, "order-1", models.OrderCreated{OrderID: "order-1"})
	require.NoError(t, h.Handle(ctx, created))

	assert.Equal(t, order.StatusCreated, repo.status("order-1"))
	assert.Empty(t, pub.types())
	assert.Zero(t, repo.applyCalls)
}

func TestHandler_PaymentFailedCancelsAndNotifies(t *testing.T) {
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaymentPending, 1)

	failed := mustEncode(t, models.EventPaymentFailed, "order-1", models.PaymentFailed{
		OrderID: "order-1", PaymentID: "pay-1", Reason: "card_declined",
	})
	require.NoError(t, h.Handle(ctx, failed))

	assert.Equal(t, order.StatusCancelled, repo.status("order-1"))
	require.Equal(t, []models.EventType{models.EventOrderCancelled}, pub.types())
	cancelled := pub.events[0].env.Payload.(models.OrderCancelled)
	assert.Equal(t, "card_declined", cancelled.Reason)
}

func TestHandler_DuplicateDeliveryAppliesOnce(t *testing.T) {
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaymentPending, 1)

	completed := mustEncode(t, models.EventPaymentCompleted, "order-1", models.PaymentCompleted{
		OrderID: "order-1", PaymentID: "pay-1", Amount: 25,
	})
	require.NoError(t, h.Handle(ctx, completed))
	require.NoError(t, h.Handle(ctx, completed))

	assert.Equal(t, order.StatusPaid, repo.status("order-1"))

	// A redelivery means the first ack may have been lost, so the follow-up
	// goes out again. Both carry the same derived event id, so consumers
	// deduplicate the pair to one effect.
	require.Equal(t, []models.EventType{models.EventOrderPaid, models.EventOrderPaid}, pub.types())
	assert.Equal(t, pub.events[0].env.EventID, pub.events[1].env.EventID)
	assert.Equal(t, completed.EventID+"/"+string(models.EventOrderPaid), pub.events[0].env.EventID)
}

func TestHandler_RepublishesOrderPaidAfterPublishFailure(t *testing.T) {
	// A transient publish failure after the paid transition committed must
	// not strand the saga: redelivering the same payment.completed has to
	// get the order.paid announcement out.
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaymentPending, 1)

	completed := mustEncode(t, models.EventPaymentCompleted, "order-1", models.PaymentCompleted{
		OrderID: "order-1", PaymentID: "pay-1", Amount: 25,
	})

	pub.err = assert.AnError
	require.Error(t, h.Handle(ctx, completed))
	assert.Equal(t, order.StatusPaid, repo.status("order-1"))
	assert.Empty(t, pub.types())

	pub.err = nil
	require.NoError(t, h.Handle(ctx, completed))

	require.Equal(t, []models.EventType{models.EventOrderPaid}, pub.types())
	paid := pub.events[0].env.Payload.(models.OrderPaid)
	assert.Equal(t, "pay-1", paid.PaymentID)
	assert.Equal(t, completed.EventID+"/"+string(models.EventOrderPaid), pub.events[0].env.EventID)
}

func TestHandler_RepublishesOrderCancelledAfterPublishFailure(t *testing.T) {
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaymentPending, 1)

	failed := mustEncode(t, models.EventPaymentFailed, "order-1", models.PaymentFailed{
		OrderID: "order-1", PaymentID: "pay-1", Reason: "card_declined",
	})

	pub.err = assert.AnError
	require.Error(t, h.Handle(ctx, failed))
	assert.Equal(t, order.StatusCancelled, repo.status("order-1"))

	// The order is already terminal; the redelivery still has to announce
	// the cancellation.
	pub.err = nil
	require.NoError(t, h.Handle(ctx, failed))

	require.Equal(t, []models.EventType{models.EventOrderCancelled}, pub.types())
	cancelled := pub.events[0].env.Payload.(models.OrderCancelled)
	assert.Equal(t, "card_declined", cancelled.Reason)
}

func TestHandler_RepublishesOrderCompletedAfterPublishFailure(t *testing.T) {
	h, repo, pub, ful := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusFulfilling, 3)

	paid := mustEncode(t, models.EventOrderPaid, "order-1", models.OrderPaid{
		OrderID: "order-1", PaymentID: "pay-1",
	})
	repo.markProcessed(paid.EventID)

	pub.err = assert.AnError
	require.Error(t, h.Handle(ctx, paid))
	assert.Equal(t, order.StatusCompleted, repo.status("order-1"))
	assert.Equal(t, 1, ful.calls)

	pub.err = nil
	require.NoError(t, h.Handle(ctx, paid))

	require.Equal(t, []models.EventType{models.EventOrderCompleted}, pub.types())
	assert.Equal(t, paid.EventID+"/"+string(models.EventOrderCompleted), pub.events[0].env.EventID)
}

func TestHandler_LateRefundCancelsPaidOrder(t *testing.T) {
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaid, 2)

	failed := mustEncode(t, models.EventPaymentFailed, "order-1", models.PaymentFailed{
		OrderID: "order-1", PaymentID: "pay-1", Reason: "refunded",
	})
	require.NoError(t, h.Handle(ctx, failed))

	assert.Equal(t, order.StatusCancelled, repo.status("order-1"))
	require.Equal(t, []models.EventType{models.EventOrderCancelled}, pub.types())
	assert.Equal(t, "refunded", pub.events[0].env.Payload.(models.OrderCancelled).Reason)
}

func TestHandler_LateEventAfterTerminalIsAcknowledged(t *testing.T) {
	h, repo, pub, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusCancelled, 2)

	completed := mustEncode(t, models.EventPaymentCompleted, "order-1", models.PaymentCompleted{
		OrderID: "order-1", PaymentID: "pay-1", Amount: 25,
	})
	require.NoError(t, h.Handle(ctx, completed))

	assert.Equal(t, order.StatusCancelled, repo.status("order-1"))
	assert.Empty(t, pub.types())
}

func TestHandler_OutOfOrderEventIsRetryable(t *testing.T) {
	h, repo, _, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusCreated, 0)

	paid := mustEncode(t, models.EventOrderPaid, "order-1", models.OrderPaid{OrderID: "order-1"})
	err := h.Handle(ctx, paid)
	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsRetryable())
	assert.Equal(t, 1, h.buffer.Held())
}

func TestHandler_OutOfOrderEventDeadLettersAfterTimeout(t *testing.T) {
	h, repo, _, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusCreated, 0)

	current := time.Unix(1000, 0)
	h.buffer.now = func() time.Time { return current }

	paid := mustEncode(t, models.EventOrderPaid, "order-1", models.OrderPaid{OrderID: "order-1"})

	err := h.Handle(ctx, paid)
	require.Error(t, err)

	current = current.Add(2 * time.Minute)
	err = h.Handle(ctx, paid)
	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, apperrors.ErrDeadLetter.Code, appErr.Code)
	assert.Zero(t, h.buffer.Held())
}

func TestHandler_UnknownAggregateHeldForRedelivery(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	ctx := context.Background()

	completed := mustEncode(t, models.EventPaymentCompleted, "order-missing", models.PaymentCompleted{
		OrderID: "order-missing", PaymentID: "pay-1",
	})
	err := h.Handle(ctx, completed)
	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsRetryable())
}

func TestHandler_VersionConflictRetriesAndSucceeds(t *testing.T) {
	h, repo, _, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaymentPending, 1)
	repo.conflictsLeft = 2

	completed := mustEncode(t, models.EventPaymentCompleted, "order-1", models.PaymentCompleted{
		OrderID: "order-1", PaymentID: "pay-1",
	})
	require.NoError(t, h.Handle(ctx, completed))

	assert.Equal(t, order.StatusPaid, repo.status("order-1"))
	assert.Equal(t, 3, repo.applyCalls)
}

func TestHandler_VersionConflictBudgetExhausted(t *testing.T) {
	h, repo, _, _ := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaymentPending, 1)
	repo.conflictsLeft = 100

	completed := mustEncode(t, models.EventPaymentCompleted, "order-1", models.PaymentCompleted{
		OrderID: "order-1", PaymentID: "pay-1",
	})
	err := h.Handle(ctx, completed)
	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsRetryable())
	assert.Equal(t, order.StatusPaymentPending, repo.status("order-1"))
}

func TestHandler_ResumesInterruptedFulfillment(t *testing.T) {
	// Crash scenario: order.paid applied (status fulfilling, event marked)
	// but the process died before completion. Redelivery must finish the job.
	h, repo, pub, ful := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusFulfilling, 3)

	paid := mustEncode(t, models.EventOrderPaid, "order-1", models.OrderPaid{
		OrderID: "order-1", PaymentID: "pay-1",
	})
	repo.markProcessed(paid.EventID)

	require.NoError(t, h.Handle(ctx, paid))

	assert.Equal(t, order.StatusCompleted, repo.status("order-1"))
	assert.Equal(t, 1, ful.calls)
	assert.Equal(t, []models.EventType{models.EventOrderCompleted}, pub.types())
}

func TestHandler_FulfillerFailurePropagates(t *testing.T) {
	h, repo, pub, ful := newTestHandler(t)
	ctx := context.Background()
	seedOrder(t, repo, order.StatusPaid, 2)
	ful.err = assert.AnError

	paid := mustEncode(t, models.EventOrderPaid, "order-1", models.OrderPaid{
		OrderID: "order-1", PaymentID: "pay-1",
	})
	err := h.Handle(ctx, paid)
	require.Error(t, err)

	// Order is stuck in fulfilling until redelivery succeeds.
	assert.Equal(t, order.StatusFulfilling, repo.status("order-1"))
	assert.Empty(t, pub.types())
}
