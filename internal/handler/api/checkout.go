package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/sindri/internal/cookie"
	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/middleware"
	"github.com/dukerupert/sindri/internal/service"
)

// CheckoutHandler handles the start-checkout route.
type CheckoutHandler struct {
	checkout service.CheckoutService
	cookies  *cookie.Config
	logger   zerolog.Logger
}

// NewCheckoutHandler creates a checkout handler.
func NewCheckoutHandler(checkout service.CheckoutService, cookies *cookie.Config, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		cookies:  cookies,
		logger:   logger,
	}
}

type startCheckoutRequest struct {
	CartID string `json:"cartId"`
}

type startCheckoutResponse struct {
	CheckoutToken string    `json:"checkoutToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CartID        string    `json:"cartId"`
}

// Start handles POST /cart/start-checkout (auth required). Retried calls
// while the lock is live return the same token.
func (h *CheckoutHandler) Start(c echo.Context) error {
	var req startCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("checkout.start", "Invalid request body"))
	}

	ref := service.Ref{
		Token:       c.Request().Header.Get(CartIDHeader),
		CookieToken: cookie.Get(c.Request(), cookie.CartCookieName),
	}
	if ref.Token == "" {
		ref.Token = req.CartID
	}
	if userID, ok := middleware.GetUserID(c); ok {
		id := userID
		ref.UserID = &id
	}

	session, err := h.checkout.Start(c.Request().Context(), ref)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	// A brand-new cart may have been created for this checkout; keep the
	// cookie pointing at whichever cart now holds the lock.
	h.cookies.SetCart(c.Response(), session.Cart.Token)

	return c.JSON(http.StatusOK, startCheckoutResponse{
		CheckoutToken: session.CheckoutToken,
		ExpiresAt:     session.ExpiresAt,
		CartID:        session.Cart.Token,
	})
}
