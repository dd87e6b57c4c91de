package order

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/logger"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/models"
)

type memoryRepo struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[string]*Order)}
}

func (r *memoryRepo) Create(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memoryRepo) ApplyTransition(ctx context.Context, id string, expectedVersion int64, next Status, group, eventID string) (bool, error) {
	return false, nil
}

type capturingProducer struct {
	mu     sync.Mutex
	events []models.Envelope
	topics []string
	err    error
}

func (p *capturingProducer) Publish(ctx context.Context, topic string, env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, env)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func TestService_CreatePersistsAndPublishes(t *testing.T) {
	repo := newMemoryRepo()
	producer := &capturingProducer{}
	svc := NewService(repo, producer, "order.events", logger.NopLogger())
	ctx := context.Background()

	o, err := svc.Create(ctx, CreateParams{
		CustomerID:    "cust-1",
		CustomerEmail: "a@example.com",
		Amount:        19.99,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, int64(0), o.Version)

	stored, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, stored.Status)

	require.Len(t, producer.events, 1)
	env := producer.events[0]
	assert.Equal(t, models.EventOrderCreated, env.EventType)
	assert.Equal(t, o.ID, env.AggregateID)
	assert.Equal(t, "order.events", producer.topics[0])

	payload := env.Payload.(models.OrderCreated)
	assert.Equal(t, "a@example.com", payload.CustomerEmail)
	assert.Equal(t, 19.99, payload.Amount)
}

func TestService_PublishFailureSurfaces(t *testing.T) {
	repo := newMemoryRepo()
	producer := &capturingProducer{err: apperrors.ErrPublish}
	svc := NewService(repo, producer, "order.events", logger.NopLogger())

	_, err := svc.Create(context.Background(), CreateParams{
		CustomerID:    "cust-1",
		CustomerEmail: "a@example.com",
		Amount:        10,
		Currency:      "EUR",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrPublish.Code, apperrors.Code(err))
}

func TestService_GetUnknownOrder(t *testing.T) {
	svc := NewService(newMemoryRepo(), &capturingProducer{}, "order.events", logger.NopLogger())

	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusFulfilling.Terminal())
}

func TestStatus_Before(t *testing.T) {
	assert.True(t, StatusCreated.Before(StatusPaid))
	assert.True(t, StatusPaid.Before(StatusCompleted))
	assert.False(t, StatusCompleted.Before(StatusCreated))
	// Cancelled is a side exit with no rank.
	assert.False(t, StatusCancelled.Before(StatusCompleted))
	assert.False(t, StatusCreated.Before(StatusCancelled))
}
