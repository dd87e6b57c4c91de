package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"orderflow/internal/constants"
	apperrors "orderflow/pkg/errors"
)

// Mailer is the external mail-gateway collaborator. Idempotency is supplied
// by the ledger wrapping it in the dispatcher, not by the gateway.
type Mailer interface {
	SendTransactional(ctx context.Context, template, recipient string, data map[string]interface{}) error
}

// HTTPMailer posts send requests to a transactional mail gateway API.
type HTTPMailer struct {
	client      *http.Client
	gatewayURL  string
	apiKey      string
	fromAddress string
}

func NewHTTPMailer(gatewayURL, apiKey, fromAddress string) *HTTPMailer {
	return &HTTPMailer{
		client:      &http.Client{Timeout: constants.DefaultHTTPTimeout},
		gatewayURL:  gatewayURL,
		apiKey:      apiKey,
		fromAddress: fromAddress,
	}
}

type sendRequest struct {
	Template  string                 `json:"template"`
	From      string                 `json:"from"`
	Recipient string                 `json:"recipient"`
	Data      map[string]interface{} `json:"data"`
}

func (m *HTTPMailer) SendTransactional(ctx context.Context, template, recipient string, data map[string]interface{}) error {
	body, err := json.Marshal(sendRequest{
		Template:  template,
		From:      m.fromAddress,
		Recipient: recipient,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.gatewayURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// A rejected template or recipient will not improve on retry.
		return apperrors.ErrValidation.
			WithDetail("message", "mail gateway rejected send").
			WithDetail("status", resp.StatusCode).
			AsFatal()
	default:
		return fmt.Errorf("mail gateway unavailable: status %d", resp.StatusCode)
	}
}

var _ Mailer = (*HTTPMailer)(nil)
