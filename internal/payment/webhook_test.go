package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/constants"
	"orderflow/internal/logger"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/models"
)

const testSecret = "whsec_test"

type fakeLedger struct {
	mu    sync.Mutex
	marks map[string]bool
	err   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{marks: make(map[string]bool)}
}

func (l *fakeLedger) MarkIfNew(ctx context.Context, group, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	key := group + "/" + eventID
	if l.marks[key] {
		return false, nil
	}
	l.marks[key] = true
	return true, nil
}

func (l *fakeLedger) Forget(ctx context.Context, group, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.marks, group+"/"+eventID)
	return nil
}

func (l *fakeLedger) marked(group, eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks[group+"/"+eventID]
}

type fakeProducer struct {
	mu     sync.Mutex
	events []models.Envelope
	topics []string
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, env)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func sign(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func gatewayBody(t *testing.T, event GatewayEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func newTestWebhook(t *testing.T) (*WebhookHandler, *fakeLedger, *fakeProducer) {
	t.Helper()
	ledger := newFakeLedger()
	producer := &fakeProducer{}
	h := NewWebhookHandler(NewHMACVerifier(testSecret), ledger, producer, "payment.events", logger.NopLogger())
	return h, ledger, producer
}

func TestWebhook_PublishesPaymentCompleted(t *testing.T) {
	h, _, producer := newTestWebhook(t)
	ctx := context.Background()

	body := gatewayBody(t, GatewayEvent{
		EventID:   "gw-evt-1",
		Type:      "payment.succeeded",
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Amount:    25,
	})
	require.NoError(t, h.Handle(ctx, body, sign(t, body)))

	require.Len(t, producer.events, 1)
	env := producer.events[0]
	assert.Equal(t, models.EventPaymentCompleted, env.EventType)
	assert.Equal(t, "order-1", env.AggregateID)
	// The gateway event id is the envelope identity, so redeliveries
	// produce the same event downstream.
	assert.Equal(t, "gw-evt-1", env.EventID)

	payload := env.Payload.(models.PaymentCompleted)
	assert.Equal(t, "gw-evt-1", payload.GatewayEventID)
}

func TestWebhook_PublishesPaymentFailed(t *testing.T) {
	h, _, producer := newTestWebhook(t)
	ctx := context.Background()

	body := gatewayBody(t, GatewayEvent{
		EventID:   "gw-evt-2",
		Type:      "payment.failed",
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Reason:    "insufficient_funds",
	})
	require.NoError(t, h.Handle(ctx, body, sign(t, body)))

	require.Len(t, producer.events, 1)
	payload := producer.events[0].Payload.(models.PaymentFailed)
	assert.Equal(t, "insufficient_funds", payload.Reason)
}

func TestWebhook_RejectsInvalidSignature(t *testing.T) {
	h, ledger, producer := newTestWebhook(t)
	ctx := context.Background()

	body := gatewayBody(t, GatewayEvent{
		EventID: "gw-evt-3",
		Type:    "payment.succeeded",
		OrderID: "order-1",
	})

	err := h.Handle(ctx, body, "deadbeef")
	assert.True(t, apperrors.IsSignatureInvalid(err))

	err = h.Handle(ctx, body, "")
	assert.True(t, apperrors.IsSignatureInvalid(err))

	assert.Empty(t, producer.events)
	assert.False(t, ledger.marked(constants.ConsumerGroupWebhook, "gw-evt-3"))
}

func TestWebhook_RejectsMalformedBody(t *testing.T) {
	h, _, producer := newTestWebhook(t)
	ctx := context.Background()

	body := []byte(`{"event_id": `)
	err := h.Handle(ctx, body, sign(t, body))
	assert.Equal(t, apperrors.ErrMalformedPayload.Code, apperrors.Code(err))
	assert.Empty(t, producer.events)
}

func TestWebhook_RejectsOversizedGatewayEventID(t *testing.T) {
	// The gateway id becomes the envelope event id and later gains derived
	// suffixes; an unbounded id would fail the ledger insert mid-processing
	// instead of being rejected at the boundary.
	h, ledger, producer := newTestWebhook(t)
	ctx := context.Background()

	body := gatewayBody(t, GatewayEvent{
		EventID:   strings.Repeat("x", maxGatewayEventIDLen+1),
		Type:      "payment.succeeded",
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Amount:    25,
	})
	err := h.Handle(ctx, body, sign(t, body))
	assert.Equal(t, apperrors.ErrMalformedPayload.Code, apperrors.Code(err))
	assert.Empty(t, producer.events)
	assert.Empty(t, ledger.marks)
}

func TestWebhook_RejectsUnknownGatewayType(t *testing.T) {
	h, _, producer := newTestWebhook(t)
	ctx := context.Background()

	body := gatewayBody(t, GatewayEvent{
		EventID: "gw-evt-4",
		Type:    "payment.refunded",
		OrderID: "order-1",
	})
	err := h.Handle(ctx, body, sign(t, body))
	assert.Equal(t, apperrors.ErrMalformedPayload.Code, apperrors.Code(err))
	assert.Empty(t, producer.events)
}

func TestWebhook_RedeliveryPublishesExactlyOnce(t *testing.T) {
	h, _, producer := newTestWebhook(t)
	ctx := context.Background()

	body := gatewayBody(t, GatewayEvent{
		EventID:   "gw-evt-5",
		Type:      "payment.succeeded",
		OrderID:   "order-1",
		PaymentID: "pay-1",
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Handle(ctx, body, sign(t, body)))
	}

	assert.Len(t, producer.events, 1)
}

func TestWebhook_PublishFailureReleasesMark(t *testing.T) {
	h, ledger, producer := newTestWebhook(t)
	ctx := context.Background()
	producer.err = assert.AnError

	body := gatewayBody(t, GatewayEvent{
		EventID:   "gw-evt-6",
		Type:      "payment.succeeded",
		OrderID:   "order-1",
		PaymentID: "pay-1",
	})

	err := h.Handle(ctx, body, sign(t, body))
	require.Error(t, err)
	assert.False(t, ledger.marked(constants.ConsumerGroupWebhook, "gw-evt-6"))

	// The gateway redelivers and this time the publish succeeds.
	producer.err = nil
	require.NoError(t, h.Handle(ctx, body, sign(t, body)))
	assert.Len(t, producer.events, 1)
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier(testSecret)
	body := []byte(`{"hello":"world"}`)

	assert.True(t, v.Verify(body, sign(t, body)))
	assert.False(t, v.Verify([]byte(`{"hello":"tampered"}`), sign(t, body)))
	assert.False(t, v.Verify(body, "not-hex!"))
	assert.False(t, v.Verify(body, ""))
}
