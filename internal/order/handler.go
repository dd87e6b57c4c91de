package order

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orderflow/internal/logger"
	"orderflow/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, authMiddleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", authMiddleware...)
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("/:id", h.GetOrder)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// CreateOrder godoc
// @Summary      Place a new order
// @Description  Accepts an order, persists it and publishes order.created
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        order  body      CreateParams  true  "Order data"
// @Success      201    {object}  Order
// @Failure      400    {object}  errors.ErrorResponse
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /orders [post]
func (h *Handler) CreateOrder(c *gin.Context) {
	var params CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := validateCreateParams(params); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	o, err := h.service.Create(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, o)
}

// GetOrder godoc
// @Summary      Get an order by ID
// @Description  Returns the current saga state of the order
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  Order
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /orders/{id} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	o, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func validateCreateParams(p CreateParams) error {
	switch {
	case p.CustomerID == "":
		return errors.ErrValidation.WithDetail("field", "customer_id")
	case p.CustomerEmail == "":
		return errors.ErrValidation.WithDetail("field", "customer_email")
	case p.Amount <= 0:
		return errors.ErrValidation.WithDetail("field", "amount")
	case len(p.Currency) != 3:
		return errors.ErrValidation.WithDetail("field", "currency")
	}
	return nil
}
