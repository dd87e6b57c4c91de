package order

import (
	"context"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/broker"
	"orderflow/internal/logger"
	"orderflow/pkg/models"
)

// Service is the order-creation collaborator. The placement request only
// waits for synchronous acceptance; everything after the order.created
// publish is driven by the saga consumers.
type Service struct {
	repo       Repository
	producer   broker.Producer
	orderTopic string
	logger     logger.Logger
}

func NewService(repo Repository, producer broker.Producer, orderTopic string, log logger.Logger) *Service {
	return &Service{
		repo:       repo,
		producer:   producer,
		orderTopic: orderTopic,
		logger:     log,
	}
}

type CreateParams struct {
	CustomerID    string  `json:"customer_id"`
	CustomerEmail string  `json:"customer_email"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*Order, error) {
	now := time.Now().UTC()
	o := &Order{
		ID:            uuid.NewString(),
		CustomerID:    params.CustomerID,
		CustomerEmail: params.CustomerEmail,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Status:        StatusCreated,
		Version:       0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	env, err := models.Encode(models.EventOrderCreated, o.ID, models.OrderCreated{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		CustomerEmail: o.CustomerEmail,
		Amount:        o.Amount,
		Currency:      o.Currency,
	})
	if err != nil {
		return nil, err
	}

	// Publish retries internally with backoff; if the budget runs out the
	// error surfaces to the placement request and the caller may retry the
	// whole placement.
	if err := s.producer.Publish(ctx, s.orderTopic, env); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish order.created",
			"error", err,
			"order_id", o.ID,
		)
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Order accepted",
		"order_id", o.ID,
		"amount", o.Amount,
	)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.Get(ctx, id)
}
