package payment

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"orderflow/internal/logger"
	"orderflow/pkg/errors"
)

// SignatureHeader carries the gateway's hex HMAC of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

type HTTPHandler struct {
	webhook *WebhookHandler
	logger  logger.Logger
}

func NewHTTPHandler(webhook *WebhookHandler, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		webhook: webhook,
		logger:  log,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/payment", h.PaymentWebhook)
	}
}

// PaymentWebhook godoc
// @Summary      Receive a payment gateway webhook
// @Description  Verifies the signature and publishes the payment outcome
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Gateway-Signature  header  string  true  "Hex HMAC-SHA256 of the body"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      401  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /webhooks/payment [post]
func (h *HTTPHandler) PaymentWebhook(c *gin.Context) {
	// The signature covers the exact bytes on the wire, so the body must be
	// read raw before any JSON binding.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	signature := c.GetHeader(SignatureHeader)

	if err := h.webhook.Handle(c.Request.Context(), body, signature); err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Webhook rejected",
			"error", err,
			"path", c.Request.URL.Path,
		)
		// A 5xx tells the gateway to redeliver; 4xx responses are final.
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
