package domain

import (
	"time"

	"github.com/google/uuid"
)

// CartStatus is the lifecycle state of a cart.
//
// Transitions:
//
//	active   -> checkout   (start checkout, compare-and-swap on status)
//	checkout -> ordered    (order created against a live lock, terminal)
//	checkout -> active     (fresh start-checkout call re-locks after expiry)
//	checkout -> abandoned  (lock expired and never re-claimed, terminal)
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusCheckout  CartStatus = "checkout"
	CartStatusOrdered   CartStatus = "ordered"
	CartStatusAbandoned CartStatus = "abandoned"
)

// Live reports whether the cart can still lead to an order.
func (s CartStatus) Live() bool {
	return s == CartStatusActive || s == CartStatusCheckout
}

// Terminal reports whether the cart has reached an end state.
func (s CartStatus) Terminal() bool {
	return s == CartStatusOrdered || s == CartStatusAbandoned
}

// CanTransition reports whether the edge from -> to exists in the cart
// state machine. The storage layer still guards every transition with a
// conditional update; this is the single source of truth for the edges.
func (s CartStatus) CanTransition(to CartStatus) bool {
	switch s {
	case CartStatusActive:
		return to == CartStatusCheckout
	case CartStatusCheckout:
		return to == CartStatusOrdered || to == CartStatusActive || to == CartStatusAbandoned
	default:
		return false
	}
}

// CartItem is a single line in a cart. Display fields are snapshots taken
// at add time for UI stability; price is deliberately absent and always
// resolved live so a stale cart never shows a stale price.
type CartItem struct {
	ID         string            `json:"id"`
	ProductID  string            `json:"productId"`
	VariantID  string            `json:"variantId,omitempty"`
	Quantity   int               `json:"quantity"`
	Title      string            `json:"title,omitempty"`
	Image      string            `json:"image,omitempty"`
	SKU        string            `json:"sku,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SameProduct reports whether two lines reference the same product/variant
// pair and should therefore combine quantities instead of coexisting.
func (i CartItem) SameProduct(other CartItem) bool {
	return i.ProductID == other.ProductID && i.VariantID == other.VariantID
}

// AppliedCoupon is the coupon snapshot stored on a cart. DiscountCents is
// re-clamped to the subtotal on every recompute.
type AppliedCoupon struct {
	Code          string    `json:"code"`
	CouponID      uuid.UUID `json:"couponId"`
	DiscountCents int64     `json:"discountAmount"`
}

// Totals are derived fields cached on the cart. They are never the source
// of truth; every mutation recomputes them from the item set it just wrote.
type Totals struct {
	SubtotalCents int64 `json:"subtotal"`
	TaxCents      int64 `json:"tax"`
	ShippingCents int64 `json:"shippingEstimate"`
	TotalCents    int64 `json:"total"`
}

// Cart is the pre-order aggregate. ID is the internal storage key; Token is
// the opaque external handle clients carry in the x-cart-id header or the
// cart_id cookie.
type Cart struct {
	ID     uuid.UUID  `json:"-"`
	Token  string     `json:"cartId"`
	UserID *uuid.UUID `json:"userId,omitempty"`

	Items  []CartItem     `json:"items"`
	Coupon *AppliedCoupon `json:"coupon,omitempty"`
	Totals

	Status CartStatus `json:"status"`

	CheckoutToken     string     `json:"checkoutToken,omitempty"`
	CheckoutStartedAt *time.Time `json:"checkoutStartedAt,omitempty"`
	CheckoutExpiry    *time.Time `json:"checkoutExpiry,omitempty"`

	OrderID     *uuid.UUID `json:"orderId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OwnedBy reports whether the cart belongs to the given user.
func (c *Cart) OwnedBy(userID uuid.UUID) bool {
	return c.UserID != nil && *c.UserID == userID
}

// CheckoutLockLive reports whether the cart holds an unexpired checkout lock
// at the given instant. An expired lock is treated as if it never existed.
func (c *Cart) CheckoutLockLive(now time.Time) bool {
	return c.Status == CartStatusCheckout &&
		c.CheckoutExpiry != nil &&
		now.Before(*c.CheckoutExpiry)
}

// FindItem returns the index of the item with the given line ID, or -1.
func (c *Cart) FindItem(itemID string) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// ItemCount returns the total quantity across all lines.
func (c *Cart) ItemCount() int {
	var n int
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// PricedLine pairs a cart line with its live pricing. EffectiveCents is the
// discount price when one is set and positive, otherwise the regular price.
type PricedLine struct {
	Item           CartItem
	UnitCents      int64
	EffectiveCents int64
}

// MerchandiseTotals is the intermediate result of pricing a cart's lines,
// before shipping and tax.
type MerchandiseTotals struct {
	// SubtotalCents is the sum of regular prices times quantities.
	SubtotalCents int64

	// EffectiveCents is the sum of effective prices times quantities,
	// the base for coupon minimum-value checks.
	EffectiveCents int64
}

// PriceLines sums a set of priced lines.
func PriceLines(lines []PricedLine) MerchandiseTotals {
	var m MerchandiseTotals
	for _, l := range lines {
		qty := int64(l.Item.Quantity)
		m.SubtotalCents += l.UnitCents * qty
		m.EffectiveCents += l.EffectiveCents * qty
	}
	return m
}

// AfterDiscount returns the merchandise total after applying a clamped
// coupon discount, floored at zero. This is the base for shipping and tax.
func (m MerchandiseTotals) AfterDiscount(discountCents int64) int64 {
	after := m.EffectiveCents - ClampDiscount(discountCents, m.SubtotalCents)
	if after < 0 {
		return 0
	}
	return after
}

// ClampDiscount bounds a coupon discount to [0, subtotal]. The stored
// discount on a cart is always the clamped value.
func ClampDiscount(discountCents, subtotalCents int64) int64 {
	if discountCents < 0 {
		return 0
	}
	if discountCents > subtotalCents {
		return subtotalCents
	}
	return discountCents
}

// ComputeTotals derives cart totals from priced lines, a (raw) coupon
// discount, and the shipping and tax amounts already computed for the
// after-discount merchandise total. It is a pure function so pricing policy
// stays a single, testable decision point.
func ComputeTotals(lines []PricedLine, couponDiscountCents, shippingCents, taxCents int64) Totals {
	m := PriceLines(lines)
	discount := ClampDiscount(couponDiscountCents, m.SubtotalCents)

	afterDiscount := m.EffectiveCents - discount
	if afterDiscount < 0 {
		afterDiscount = 0
	}

	return Totals{
		SubtotalCents: m.SubtotalCents,
		TaxCents:      taxCents,
		ShippingCents: shippingCents,
		TotalCents:    afterDiscount + shippingCents + taxCents,
	}
}

// DefaultCartTTL is how long an untouched cart survives before the TTL
// sweep deletes it.
const DefaultCartTTL = 30 * 24 * time.Hour

// DefaultCheckoutWindow is the lifetime of a checkout lock.
const DefaultCheckoutWindow = 5 * time.Minute
