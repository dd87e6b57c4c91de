package models

import "time"

// EnvelopeBuilder exists for publishers that need control over envelope
// identity: the webhook handler pins the gateway event id as EventID so a
// redelivered webhook produces a byte-for-byte duplicate that downstream
// ledgers suppress.
type EnvelopeBuilder struct {
	envelope Envelope
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: Envelope{
			SchemaVersion: CurrentSchemaVersion,
		},
	}
}

func (b *EnvelopeBuilder) WithEventID(id string) *EnvelopeBuilder {
	b.envelope.EventID = id
	return b
}

func (b *EnvelopeBuilder) WithAggregateID(id string) *EnvelopeBuilder {
	b.envelope.AggregateID = id
	return b
}

func (b *EnvelopeBuilder) WithOccurredAt(t time.Time) *EnvelopeBuilder {
	b.envelope.OccurredAt = t
	return b
}

func (b *EnvelopeBuilder) WithSchemaVersion(v int) *EnvelopeBuilder {
	b.envelope.SchemaVersion = v
	return b
}

func (b *EnvelopeBuilder) WithPayload(p Payload) *EnvelopeBuilder {
	b.envelope.Payload = p
	if p != nil {
		b.envelope.EventType = p.EventType()
	}
	return b
}

func (b *EnvelopeBuilder) Build() (Envelope, error) {
	if b.envelope.OccurredAt.IsZero() {
		b.envelope.OccurredAt = time.Now().UTC()
	}
	if err := Validate(&b.envelope); err != nil {
		return Envelope{}, err
	}
	return b.envelope, nil
}
