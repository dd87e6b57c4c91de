package saga

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/logger"
	"orderflow/internal/order"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/metrics"
	"orderflow/pkg/models"
)

// Publisher is the slice of the broker the handler needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
}

// Fulfiller is the external fulfillment collaborator invoked once an order
// is paid.
type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) error
}

type Config struct {
	OrderTopic     string
	VersionRetries int
	ReorderTimeout time.Duration
}

// Handler drives the order saga. It consumes payment.* and order.paid events,
// applies transitions through the state machine, and persists each transition
// atomically with its idempotency mark.
type Handler struct {
	repo      order.Repository
	machine   *Machine
	buffer    *ReorderBuffer
	producer  Publisher
	fulfiller Fulfiller
	cfg       Config
	logger    logger.Logger
}

func NewHandler(repo order.Repository, producer Publisher, fulfiller Fulfiller, cfg Config, log logger.Logger) *Handler {
	if cfg.VersionRetries <= 0 {
		cfg.VersionRetries = 5
	}
	if cfg.ReorderTimeout <= 0 {
		cfg.ReorderTimeout = 60 * time.Second
	}
	return &Handler{
		repo:      repo,
		machine:   NewMachine(),
		buffer:    NewReorderBuffer(cfg.ReorderTimeout),
		producer:  producer,
		fulfiller: fulfiller,
		cfg:       cfg,
		logger:    log,
	}
}

// Handle processes one envelope. Returning nil acknowledges the message;
// a retryable error triggers redelivery with backoff; a fatal error routes
// the message to the dead-letter topic.
func (h *Handler) Handle(ctx context.Context, env models.Envelope) error {
	switch env.EventType {
	case models.EventPaymentInitiated, models.EventPaymentCompleted, models.EventPaymentFailed, models.EventOrderPaid:
	default:
		// Not a saga input (order.created, order.completed fan out to other
		// consumers). Acknowledge without side effects.
		return nil
	}

	for attempt := 0; attempt < h.cfg.VersionRetries; attempt++ {
		err := h.apply(ctx, env)
		if apperrors.IsVersionConflict(err) {
			metrics.SagaVersionConflictsTotal.Inc()
			h.logger.WarnwCtx(ctx, "Version conflict, re-reading aggregate",
				"attempt", attempt+1,
			)
			continue
		}
		return err
	}

	// Conflict budget exhausted: hand back to the broker retry policy.
	return apperrors.ErrVersionConflict.
		WithDetail("order_id", env.AggregateID).
		WithDetail("message", "version retry budget exhausted").
		AsRetryable()
}

func (h *Handler) apply(ctx context.Context, env models.Envelope) error {
	o, err := h.repo.Get(ctx, env.AggregateID)
	if apperrors.IsNotFound(err) {
		// The aggregate has not been created yet: the event outran
		// order.created. Hold it and let redelivery retry.
		return h.holdOutOfOrder(ctx, env)
	}
	if err != nil {
		return err
	}

	if o.Status.Terminal() {
		metrics.SagaTerminalReplaysTotal.Inc()
		h.buffer.Resolve(env.EventID)
		if err := h.replayFollowUp(ctx, env, o); err != nil {
			return err
		}
		h.logger.InfowCtx(ctx, "Event for terminal order ignored",
			"status", string(o.Status),
			"event_type", string(env.EventType),
		)
		return nil
	}

	next, err := h.machine.Next(o.Status, env.EventType)
	if errors.Is(err, ErrNoOp) {
		h.buffer.Resolve(env.EventID)
		if err := h.replayFollowUp(ctx, env, o); err != nil {
			return err
		}
		h.logger.DebugwCtx(ctx, "Stale event ignored",
			"status", string(o.Status),
			"event_type", string(env.EventType),
		)
		return nil
	}
	if errors.Is(err, ErrOutOfOrder) {
		return h.holdOutOfOrder(ctx, env)
	}
	if err != nil {
		return err
	}

	firstSeen, err := h.repo.ApplyTransition(ctx, o.ID, o.Version, next, order.ConsumerGroup, env.EventID)
	if err != nil {
		return err
	}
	h.buffer.Resolve(env.EventID)

	if !firstSeen {
		// Already applied by an earlier delivery. The only work left is the
		// fulfillment completion step, which a crash may have interrupted.
		if env.EventType == models.EventOrderPaid && o.Status == order.StatusFulfilling {
			return h.completeFulfillment(ctx, env, o)
		}
		h.logger.InfowCtx(ctx, "Duplicate event suppressed",
			"event_type", string(env.EventType),
		)
		return nil
	}

	metrics.SagaTransitionsTotal.WithLabelValues(string(o.Status), string(next)).Inc()
	h.logger.InfowCtx(ctx, "Order transitioned",
		"from", string(o.Status),
		"to", string(next),
		"event_type", string(env.EventType),
	)

	return h.emitFollowUp(ctx, env, o, next)
}

// followUpEventID derives the id of a follow-up event from the event that
// caused it. Deterministic ids make re-published follow-ups duplicates of the
// original attempt, so downstream ledgers suppress them by id.
func followUpEventID(sourceEventID string, eventType models.EventType) string {
	return sourceEventID + "/" + string(eventType)
}

func fulfillmentEventID(sourceEventID string) string {
	return sourceEventID + "/fulfillment"
}

// emitFollowUp publishes the event announcing the transition. The publish
// runs after the transition committed, so a transient failure or a crash in
// between loses only the announcement, not the state. Redelivery of the
// input event finds the state already advanced and replays the publish via
// replayFollowUp.
func (h *Handler) emitFollowUp(ctx context.Context, env models.Envelope, o *order.Order, next order.Status) error {
	switch next {
	case order.StatusPaid:
		return h.publishOrderPaid(ctx, env, o)

	case order.StatusCancelled:
		return h.publishOrderCancelled(ctx, env, o)

	case order.StatusFulfilling:
		return h.completeFulfillment(ctx, env, o)
	}

	return nil
}

// replayFollowUp re-publishes the follow-up for a transition this event
// already committed. Without it, a publish failure after the commit stalls
// the saga: redelivery sees the advanced state, the machine reports a no-op,
// and the announcement would never leave the service.
func (h *Handler) replayFollowUp(ctx context.Context, env models.Envelope, o *order.Order) error {
	if o.LastEventID == env.EventID {
		switch o.Status {
		case order.StatusPaid:
			return h.publishOrderPaid(ctx, env, o)
		case order.StatusCancelled:
			return h.publishOrderCancelled(ctx, env, o)
		}
		return nil
	}

	if o.Status == order.StatusCompleted && o.LastEventID == fulfillmentEventID(env.EventID) {
		return h.publishOrderCompleted(ctx, env.EventID, o)
	}

	return nil
}

func (h *Handler) publishOrderPaid(ctx context.Context, env models.Envelope, o *order.Order) error {
	paid, ok := env.Payload.(models.PaymentCompleted)
	if !ok {
		return apperrors.ErrMalformedPayload.WithDetail("event_type", string(env.EventType))
	}
	out, err := models.NewEnvelopeBuilder().
		WithEventID(followUpEventID(env.EventID, models.EventOrderPaid)).
		WithAggregateID(o.ID).
		WithPayload(models.OrderPaid{
			OrderID:       o.ID,
			PaymentID:     paid.PaymentID,
			CustomerEmail: o.CustomerEmail,
			Amount:        o.Amount,
		}).
		Build()
	if err != nil {
		return err
	}
	return h.producer.Publish(ctx, h.cfg.OrderTopic, out)
}

func (h *Handler) publishOrderCancelled(ctx context.Context, env models.Envelope, o *order.Order) error {
	reason := "payment failed"
	if failed, ok := env.Payload.(models.PaymentFailed); ok && failed.Reason != "" {
		reason = failed.Reason
	}
	out, err := models.NewEnvelopeBuilder().
		WithEventID(followUpEventID(env.EventID, models.EventOrderCancelled)).
		WithAggregateID(o.ID).
		WithPayload(models.OrderCancelled{
			OrderID:       o.ID,
			CustomerEmail: o.CustomerEmail,
			Reason:        reason,
		}).
		Build()
	if err != nil {
		return err
	}
	return h.producer.Publish(ctx, h.cfg.OrderTopic, out)
}

func (h *Handler) publishOrderCompleted(ctx context.Context, sourceEventID string, o *order.Order) error {
	out, err := models.NewEnvelopeBuilder().
		WithEventID(followUpEventID(sourceEventID, models.EventOrderCompleted)).
		WithAggregateID(o.ID).
		WithPayload(models.OrderCompleted{OrderID: o.ID}).
		Build()
	if err != nil {
		return err
	}
	return h.producer.Publish(ctx, h.cfg.OrderTopic, out)
}

// completeFulfillment runs the fulfillment collaborator and moves the order
// to completed. The completion transition carries its own derived event id so
// its ledger mark is independent of the order.paid mark; a crash between the
// two steps resumes here on redelivery.
func (h *Handler) completeFulfillment(ctx context.Context, env models.Envelope, o *order.Order) error {
	if err := h.fulfiller.Fulfill(ctx, o.ID); err != nil {
		return err
	}

	current, err := h.repo.Get(ctx, o.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return nil
	}

	firstSeen, err := h.repo.ApplyTransition(ctx, o.ID, current.Version, order.StatusCompleted, order.ConsumerGroup, fulfillmentEventID(env.EventID))
	if err != nil {
		return err
	}
	if !firstSeen {
		return nil
	}

	metrics.SagaTransitionsTotal.WithLabelValues(string(order.StatusFulfilling), string(order.StatusCompleted)).Inc()
	h.logger.InfowCtx(ctx, "Order fulfilled",
		"order_id", o.ID,
	)

	return h.publishOrderCompleted(ctx, env.EventID, o)
}

func (h *Handler) holdOutOfOrder(ctx context.Context, env models.Envelope) error {
	if h.buffer.Hold(env.EventID) {
		h.buffer.Resolve(env.EventID)
		h.logger.ErrorwCtx(ctx, "Causal predecessor never arrived, dead-lettering",
			"event_type", string(env.EventType),
			"held_for", h.cfg.ReorderTimeout.String(),
		)
		return apperrors.ErrDeadLetter.
			WithDetail("event_type", string(env.EventType)).
			WithDetail("message", "reorder timeout exceeded")
	}

	h.logger.WarnwCtx(ctx, "Event out of causal order, holding for redelivery",
		"event_type", string(env.EventType),
	)
	return apperrors.ErrInternal.
		WithDetail("message", "out-of-order event, awaiting causal predecessor").
		AsRetryable()
}
