package models

import (
	"encoding/json"

	"orderflow/pkg/errors"
)

type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventOrderPaid        EventType = "order.paid"
	EventOrderCancelled   EventType = "order.cancelled"
	EventOrderCompleted   EventType = "order.completed"
	EventPaymentInitiated EventType = "payment.initiated"
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
)

// Payload is the closed union of event payloads. Each variant reports its own
// event type so an envelope cannot carry a mismatched body.
type Payload interface {
	EventType() EventType
}

type OrderCreated struct {
	OrderID       string  `json:"order_id"`
	CustomerID    string  `json:"customer_id"`
	CustomerEmail string  `json:"customer_email"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

func (OrderCreated) EventType() EventType { return EventOrderCreated }

type OrderPaid struct {
	OrderID       string  `json:"order_id"`
	PaymentID     string  `json:"payment_id"`
	CustomerEmail string  `json:"customer_email"`
	Amount        float64 `json:"amount"`
}

func (OrderPaid) EventType() EventType { return EventOrderPaid }

type OrderCancelled struct {
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
	Reason        string `json:"reason"`
}

func (OrderCancelled) EventType() EventType { return EventOrderCancelled }

type OrderCompleted struct {
	OrderID string `json:"order_id"`
}

func (OrderCompleted) EventType() EventType { return EventOrderCompleted }

// PaymentInitiated is informational only: the saga does not transition on it.
type PaymentInitiated struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

func (PaymentInitiated) EventType() EventType { return EventPaymentInitiated }

type PaymentCompleted struct {
	OrderID        string  `json:"order_id"`
	PaymentID      string  `json:"payment_id"`
	GatewayEventID string  `json:"gateway_event_id"`
	Amount         float64 `json:"amount"`
}

func (PaymentCompleted) EventType() EventType { return EventPaymentCompleted }

type PaymentFailed struct {
	OrderID        string `json:"order_id"`
	PaymentID      string `json:"payment_id"`
	GatewayEventID string `json:"gateway_event_id"`
	Reason         string `json:"reason"`
}

func (PaymentFailed) EventType() EventType { return EventPaymentFailed }

// payloadRegistry maps each event type to a decoder for its payload variant.
var payloadRegistry = map[EventType]func(json.RawMessage) (Payload, error){
	EventOrderCreated:     decodeInto[OrderCreated],
	EventOrderPaid:        decodeInto[OrderPaid],
	EventOrderCancelled:   decodeInto[OrderCancelled],
	EventOrderCompleted:   decodeInto[OrderCompleted],
	EventPaymentInitiated: decodeInto[PaymentInitiated],
	EventPaymentCompleted: decodeInto[PaymentCompleted],
	EventPaymentFailed:    decodeInto[PaymentFailed],
}

// decodeInto tolerates unknown fields: producers on a newer minor schema may
// add fields, and the versioning policy keeps those additive.
func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func decodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	decode, ok := payloadRegistry[eventType]
	if !ok {
		return nil, errors.ErrMalformedPayload.
			WithDetail("message", "unknown event type").
			WithDetail("event_type", string(eventType))
	}
	if len(raw) == 0 {
		return nil, errors.ErrMalformedPayload.WithDetail("message", "payload is empty")
	}
	p, err := decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrMalformedPayload).
			WithDetail("event_type", string(eventType))
	}
	return p, nil
}

func KnownEventTypes() []EventType {
	types := make([]EventType, 0, len(payloadRegistry))
	for t := range payloadRegistry {
		types = append(types, t)
	}
	return types
}
