package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/sindri/internal/cookie"
	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/middleware"
	"github.com/dukerupert/sindri/internal/service"
)

// IdempotencyKeyHeader carries the client-supplied idempotency key for
// order creation.
const IdempotencyKeyHeader = "Idempotency-Key"

// OrderHandler handles order routes.
type OrderHandler struct {
	orders  service.OrderService
	cookies *cookie.Config
	logger  zerolog.Logger
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(orders service.OrderService, cookies *cookie.Config, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:  orders,
		cookies: cookies,
		logger:  logger,
	}
}

type createOrderRequest struct {
	CartID        string `json:"cartId"`
	AddressID     string `json:"addressId"`
	PaymentMethod string `json:"paymentMethod"`
}

type orderResponse struct {
	*domain.Order
	Idempotent bool `json:"idempotent"`
}

// Create handles POST /orders/create (auth required). The first call for
// an idempotency key answers 201; replays answer 200 with the same order.
// Items and totals come from the checkout-locked cart, not the body.
func (h *OrderHandler) Create(c echo.Context) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return respondError(c, h.logger, domain.Unauthorized("order.create", "Authentication required"))
	}

	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("order.create", "Invalid request body"))
	}

	cartToken := req.CartID
	if cartToken == "" {
		cartToken = c.Request().Header.Get(CartIDHeader)
	}
	if cartToken == "" {
		cartToken = cookie.Get(c.Request(), cookie.CartCookieName)
	}

	order, idempotent, err := h.orders.Create(c.Request().Context(), userID, service.CreateOrderParams{
		CartToken:      cartToken,
		IdempotencyKey: c.Request().Header.Get(IdempotencyKeyHeader),
		AddressID:      req.AddressID,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	// The cart reached its terminal state; the cookie no longer points at
	// anything usable.
	if !idempotent {
		h.cookies.ClearCart(c.Response())
	}

	status := http.StatusCreated
	if idempotent {
		status = http.StatusOK
	}
	return c.JSON(status, orderResponse{
		Order:      order,
		Idempotent: idempotent,
	})
}

// Get handles GET /orders/:id for the order's owner.
func (h *OrderHandler) Get(c echo.Context) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return respondError(c, h.logger, domain.Unauthorized("order.get", "Authentication required"))
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, domain.Invalid("order.get", "Invalid order ID"))
	}

	order, err := h.orders.Get(c.Request().Context(), userID, orderID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, order)
}
