package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/sindri/internal/cookie"
	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/middleware"
	"github.com/dukerupert/sindri/internal/service"
)

// CartIDHeader carries an explicit cart token, taking precedence over the
// cart cookie.
const CartIDHeader = "x-cart-id"

// CartHandler handles all cart routes.
type CartHandler struct {
	carts   service.CartService
	cookies *cookie.Config
	logger  zerolog.Logger
}

// NewCartHandler creates a cart handler.
func NewCartHandler(carts service.CartService, cookies *cookie.Config, logger zerolog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		cookies: cookies,
		logger:  logger,
	}
}

// ref assembles the cart identity carried by the request.
func (h *CartHandler) ref(c echo.Context) service.Ref {
	ref := service.Ref{
		Token:       c.Request().Header.Get(CartIDHeader),
		CookieToken: cookie.Get(c.Request(), cookie.CartCookieName),
	}
	if userID, ok := middleware.GetUserID(c); ok {
		id := userID
		ref.UserID = &id
	}
	return ref
}

// applyResolution performs the cookie side effects resolution asked for.
func (h *CartHandler) applyResolution(c echo.Context, res service.Resolution, token string) {
	switch {
	case res.Created:
		h.cookies.SetCart(c.Response(), token)
	case res.ClearCookie:
		h.cookies.ClearCart(c.Response())
	}
}

type createCartRequest struct {
	CartID string `json:"cartId"`
}

// Create handles POST /cart/create. Supplying an existing cart token
// returns that cart, so retried creates are idempotent.
func (h *CartHandler) Create(c echo.Context) error {
	var req createCartRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("cart.create", "Invalid request body"))
	}

	ref := h.ref(c)
	if ref.Token == "" {
		ref.Token = req.CartID
	}

	cart, res, err := h.carts.Create(c.Request().Context(), ref)
	if err != nil {
		h.applyResolution(c, service.Resolution{ClearCookie: res.ClearCookie}, "")
		return respondError(c, h.logger, err)
	}

	h.applyResolution(c, res, cart.Token)

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, cart)
}

// Get handles POST /cart/get and HEAD /cart/get (existence probe).
func (h *CartHandler) Get(c echo.Context) error {
	cart, res, err := h.carts.Resolve(c.Request().Context(), h.ref(c))
	if err != nil {
		h.applyResolution(c, res, "")
		if c.Request().Method == http.MethodHead {
			logInternal(c, h.logger, err)
			return c.NoContent(statusFromCode(domain.ErrorCode(err)))
		}
		return respondError(c, h.logger, err)
	}

	if c.Request().Method == http.MethodHead {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, cart)
}

type addItemRequest struct {
	Item struct {
		ProductID  string            `json:"productId" validate:"required"`
		VariantID  string            `json:"variantId"`
		Quantity   int               `json:"quantity"`
		Title      string            `json:"title"`
		Image      string            `json:"image"`
		SKU        string            `json:"sku"`
		Attributes map[string]string `json:"attributes"`
	} `json:"item"`
}

// AddItem handles POST /cart/add-item, creating the cart lazily.
func (h *CartHandler) AddItem(c echo.Context) error {
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("cart.addItem", "Invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.logger, err)
	}

	cart, res, err := h.carts.AddItem(c.Request().Context(), h.ref(c), service.AddItemParams{
		ProductID:  req.Item.ProductID,
		VariantID:  req.Item.VariantID,
		Quantity:   req.Item.Quantity,
		Title:      req.Item.Title,
		Image:      req.Item.Image,
		SKU:        req.Item.SKU,
		Attributes: req.Item.Attributes,
	})
	if err != nil {
		h.applyResolution(c, res, "")
		return respondError(c, h.logger, err)
	}

	h.applyResolution(c, res, cart.Token)
	return c.JSON(http.StatusOK, cart)
}

type updateItemRequest struct {
	ItemID  string `json:"itemId" validate:"required"`
	Changes struct {
		Quantity int `json:"quantity"`
	} `json:"changes"`
}

// UpdateItem handles PATCH /cart/update-item. Quantity zero or below
// removes the line.
func (h *CartHandler) UpdateItem(c echo.Context) error {
	var req updateItemRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("cart.updateItem", "Invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.logger, err)
	}

	cart, err := h.carts.UpdateItemQuantity(c.Request().Context(), h.ref(c), req.ItemID, req.Changes.Quantity)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, cart)
}

type removeItemRequest struct {
	ItemID string `json:"itemId" validate:"required"`
}

// RemoveItem handles DELETE /cart/remove-item. Removing an absent line
// succeeds.
func (h *CartHandler) RemoveItem(c echo.Context) error {
	var req removeItemRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("cart.removeItem", "Invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.logger, err)
	}

	cart, err := h.carts.RemoveItem(c.Request().Context(), h.ref(c), req.ItemID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, cart)
}

// Clear handles POST /cart/clear.
func (h *CartHandler) Clear(c echo.Context) error {
	cart, err := h.carts.Clear(c.Request().Context(), h.ref(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, cart)
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required"`
}

// ApplyCoupon handles POST /cart/apply-coupon.
func (h *CartHandler) ApplyCoupon(c echo.Context) error {
	var req applyCouponRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, h.logger, domain.Invalid("cart.applyCoupon", "Invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.logger, err)
	}

	cart, err := h.carts.ApplyCoupon(c.Request().Context(), h.ref(c), req.Code)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, cart)
}

// RemoveCoupon handles DELETE /cart/remove-coupon.
func (h *CartHandler) RemoveCoupon(c echo.Context) error {
	cart, err := h.carts.RemoveCoupon(c.Request().Context(), h.ref(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, cart)
}

type mergeResponse struct {
	*domain.Cart
	Message string `json:"message"`
}

// Merge handles POST /cart/merge (auth required). On success the cart
// cookie is repointed at the surviving cart.
func (h *CartHandler) Merge(c echo.Context) error {
	cart, res, err := h.carts.Merge(c.Request().Context(), h.ref(c))
	if err != nil {
		h.applyResolution(c, res, "")
		return respondError(c, h.logger, err)
	}

	h.cookies.SetCart(c.Response(), cart.Token)
	return c.JSON(http.StatusOK, mergeResponse{
		Cart:    cart,
		Message: "Cart merged",
	})
}

// Count handles GET|POST /cart/count.
func (h *CartHandler) Count(c echo.Context) error {
	cart, res, err := h.carts.Resolve(c.Request().Context(), h.ref(c))
	if err != nil {
		h.applyResolution(c, res, "")
		// An absent cart simply holds nothing.
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return c.JSON(http.StatusOK, map[string]int{"count": 0})
		}
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": cart.ItemCount()})
}

// Items handles GET|POST /cart/items.
func (h *CartHandler) Items(c echo.Context) error {
	cart, res, err := h.carts.Resolve(c.Request().Context(), h.ref(c))
	if err != nil {
		h.applyResolution(c, res, "")
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return c.JSON(http.StatusOK, map[string]any{"items": []domain.CartItem{}})
		}
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": cart.Items})
}

type priceSummaryResponse struct {
	Subtotal         int64                 `json:"subtotal"`
	Discount         int64                 `json:"discount"`
	ShippingEstimate int64                 `json:"shippingEstimate"`
	Tax              int64                 `json:"tax"`
	Total            int64                 `json:"total"`
	Coupon           *domain.AppliedCoupon `json:"coupon,omitempty"`
}

// PriceSummary handles GET|POST /cart/price-summary.
func (h *CartHandler) PriceSummary(c echo.Context) error {
	cart, res, err := h.carts.Resolve(c.Request().Context(), h.ref(c))
	if err != nil {
		h.applyResolution(c, res, "")
		return respondError(c, h.logger, err)
	}

	var discount int64
	if cart.Coupon != nil {
		discount = cart.Coupon.DiscountCents
	}

	return c.JSON(http.StatusOK, priceSummaryResponse{
		Subtotal:         cart.SubtotalCents,
		Discount:         discount,
		ShippingEstimate: cart.ShippingCents,
		Tax:              cart.TaxCents,
		Total:            cart.TotalCents,
		Coupon:           cart.Coupon,
	})
}

type summaryResponse struct {
	*domain.Cart
	ItemCount int `json:"itemCount"`
}

// Summary handles GET|POST /cart/summary.
func (h *CartHandler) Summary(c echo.Context) error {
	cart, res, err := h.carts.Resolve(c.Request().Context(), h.ref(c))
	if err != nil {
		h.applyResolution(c, res, "")
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, summaryResponse{
		Cart:      cart,
		ItemCount: cart.ItemCount(),
	})
}
