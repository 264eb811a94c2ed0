// Package events publishes domain events for downstream consumers
// (abandoned-cart campaigns, fulfillment, analytics). Publishing is
// best-effort: a failed publish is logged by the caller, never surfaced
// to the shopper.
package events

import "context"

// Subjects for published events.
const (
	SubjectCheckoutStarted = "sindri.checkout.started"
	SubjectOrderCreated    = "sindri.order.created"
	SubjectCartMerged      = "sindri.cart.merged"
)

// Publisher emits a JSON-encoded event on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// CheckoutStarted is emitted when a cart acquires a checkout lock.
type CheckoutStarted struct {
	CartID    string `json:"cartId"`
	UserID    string `json:"userId"`
	ExpiresAt string `json:"expiresAt"`
}

// OrderCreated is emitted exactly once per order (replays of an
// idempotency key do not re-publish).
type OrderCreated struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	UserID      string `json:"userId"`
	TotalCents  int64  `json:"total"`
}

// CartMerged is emitted when a guest cart is merged into a user cart.
type CartMerged struct {
	SourceCartID string `json:"sourceCartId"`
	TargetCartID string `json:"targetCartId"`
	UserID       string `json:"userId"`
}
