package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"orderflow/pkg/errors"
)

// CurrentSchemaVersion is the newest envelope schema this build understands.
// Within a major version only additive payload fields are allowed; a bump
// requires consumers to accept both versions during the migration window.
const CurrentSchemaVersion = 1

// Envelope is the wire format for every inter-service event. AggregateID is
// the order identifier and doubles as the partition key, so all events for
// one order are totally ordered on the bus.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	AggregateID   string    `json:"aggregate_id"`
	SchemaVersion int       `json:"schema_version"`
	Payload       Payload   `json:"payload"`
}

// Encode builds an envelope with a fresh event id and timestamp. Callers that
// must pin the event id for downstream deduplication (webhook redeliveries)
// use the builder instead.
func Encode(eventType EventType, aggregateID string, payload Payload) (Envelope, error) {
	if payload == nil {
		return Envelope{}, errors.ErrMalformedPayload.WithDetail("message", "payload cannot be nil")
	}
	if payload.EventType() != eventType {
		return Envelope{}, errors.ErrMalformedPayload.
			WithDetail("message", "payload type does not match event type").
			WithDetail("event_type", string(eventType))
	}
	if aggregateID == "" {
		return Envelope{}, errors.ErrMalformedPayload.WithDetail("message", "aggregate id is required")
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		AggregateID:   aggregateID,
		SchemaVersion: CurrentSchemaVersion,
		Payload:       payload,
	}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// wireEnvelope defers payload decoding until the event type is known.
type wireEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateID   string          `json:"aggregate_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode parses an envelope off the wire. Unknown schema versions fail with
// SCHEMA_ERROR; payloads that do not match the registered schema for the
// event type fail with MALFORMED_PAYLOAD. Both are fatal: the bytes will not
// get better on redelivery.
func Decode(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, errors.Wrap(err, errors.ErrMalformedPayload)
	}

	if wire.SchemaVersion > CurrentSchemaVersion {
		return Envelope{}, errors.ErrSchema.
			WithDetail("schema_version", wire.SchemaVersion).
			WithDetail("supported", CurrentSchemaVersion)
	}

	payload, err := decodePayload(wire.EventType, wire.Payload)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       wire.EventID,
		EventType:     wire.EventType,
		OccurredAt:    wire.OccurredAt,
		AggregateID:   wire.AggregateID,
		SchemaVersion: wire.SchemaVersion,
		Payload:       payload,
	}

	if err := Validate(&env); err != nil {
		return Envelope{}, errors.Wrap(err, errors.ErrMalformedPayload)
	}

	return env, nil
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error for field '" + e.Field + "': " + e.Message
}

func Validate(env *Envelope) error {
	if env == nil {
		return &ValidationError{Field: "envelope", Message: "envelope cannot be nil"}
	}
	if env.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "event id is required"}
	}
	if env.EventType == "" {
		return &ValidationError{Field: "event_type", Message: "event type is required"}
	}
	if env.AggregateID == "" {
		return &ValidationError{Field: "aggregate_id", Message: "aggregate id is required"}
	}
	if env.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Message: "timestamp is required"}
	}
	if env.Payload == nil {
		return &ValidationError{Field: "payload", Message: "payload cannot be nil"}
	}
	return nil
}
