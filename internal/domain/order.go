package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrCheckoutLockLost is returned when the cart left the checkout state
// between the caller's read and the order transaction's compare-and-swap.
var ErrCheckoutLockLost = &Error{
	Code:    ECONFLICT,
	Message: "checkout session is no longer active",
}

// OrderStatus is the lifecycle state of an order. Payment settlement is an
// external concern; orders are created pending and marked paid or failed by
// the payment callback.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem is an immutable snapshot of a cart line at order time,
// including the prices the order was placed against.
type OrderItem struct {
	ProductID      string `json:"productId"`
	VariantID      string `json:"variantId,omitempty"`
	Title          string `json:"title,omitempty"`
	SKU            string `json:"sku,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitCents      int64  `json:"unitPrice"`
	EffectiveCents int64  `json:"effectivePrice"`
}

// Order is created exactly once per idempotency key from a checkout-locked
// cart. Unlike the cart, its items and totals are frozen.
type Order struct {
	ID          uuid.UUID   `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      uuid.UUID   `json:"userId"`
	CartID      uuid.UUID   `json:"-"`
	CartToken   string      `json:"cartId"`
	Status      OrderStatus `json:"status"`

	Items []OrderItem `json:"items"`

	AddressID     string `json:"addressId"`
	PaymentMethod string `json:"paymentMethod"`

	SubtotalCents int64 `json:"subtotal"`
	DiscountCents int64 `json:"discount"`
	ShippingCents int64 `json:"shippingEstimate"`
	TaxCents      int64 `json:"tax"`
	TotalCents    int64 `json:"total"`

	CouponCode string `json:"couponCode,omitempty"`

	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Payment is the per-order payment record. Gateway integration happens
// elsewhere; this is the ledger entry it settles against.
type Payment struct {
	ID          uuid.UUID `json:"paymentId"`
	OrderID     uuid.UUID `json:"orderId"`
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
