package service

import (
	"fmt"

	"github.com/dukerupert/sindri/internal/domain"
)

// Cart and item errors - use domain.ENOTFOUND
var (
	ErrCartNotFound  = domain.Errorf(domain.ENOTFOUND, "", "Cart not found")
	ErrOrderNotFound = domain.Errorf(domain.ENOTFOUND, "", "Order not found")
	ErrPriceNotFound = domain.Errorf(domain.ENOTFOUND, "", "Price not found for this product")

	ErrItemNotFound = &domain.Error{
		Code:    domain.ENOTFOUND,
		Message: "Item not found in cart",
		Reason:  "ITEM_NOT_FOUND",
	}
)

// Validation errors - use domain.EINVALID
var (
	ErrInvalidQuantity = domain.Errorf(domain.EINVALID, "", "Quantity must be at least 1")
	ErrMissingProduct  = domain.Errorf(domain.EINVALID, "", "Product ID is required")
	ErrEmptyCart       = domain.Errorf(domain.EINVALID, "", "Cart is empty")

	ErrMissingIdempotencyKey = &domain.Error{
		Code:    domain.EINVALID,
		Message: "Idempotency-Key header is required",
		Reason:  "MISSING_IDEMPOTENCY_KEY",
	}
)

// Checkout state errors
var (
	// ErrCartCheckoutLocked rejects mutations while an order is being placed
	// against the cart's current contents.
	ErrCartCheckoutLocked = &domain.Error{
		Code:    domain.ECONFLICT,
		Message: "Cart is locked for checkout and cannot be modified",
		Reason:  "CART_LOCKED",
	}

	// ErrCheckoutConflict is the loser's answer when a concurrent request
	// moved the cart out of a lockable state.
	ErrCheckoutConflict = &domain.Error{
		Code:    domain.ECONFLICT,
		Message: "Cart is already in checkout or has been ordered",
		Reason:  "CART_ALREADY_IN_CHECKOUT_OR_ORDERED",
	}

	ErrCartNotLocked = &domain.Error{
		Code:    domain.ECONFLICT,
		Message: "Cart is not locked for checkout",
		Reason:  "CART_NOT_LOCKED",
	}

	ErrCheckoutExpired = &domain.Error{
		Code:    domain.ECONFLICT,
		Message: "Checkout session has expired",
		Reason:  "CHECKOUT_EXPIRED",
	}
)

// Ownership errors
var (
	ErrNotCartOwner = domain.Forbidden("", "You do not have access to this cart")
)

// Coupon errors. Each failing rule gets its own user-facing message; a
// generic "invalid coupon" is never returned.
var (
	ErrCouponNotFound     = domain.Errorf(domain.ENOTFOUND, "", "Coupon code is not valid")
	ErrCouponInactive     = domain.Errorf(domain.EINVALID, "", "This coupon is no longer active")
	ErrCouponNotStarted   = domain.Errorf(domain.EINVALID, "", "This coupon is not active yet")
	ErrCouponExpired      = domain.Errorf(domain.EINVALID, "", "This coupon has expired")
	ErrCouponExhausted    = domain.Errorf(domain.EINVALID, "", "This coupon has reached its usage limit")
	ErrCouponRequiresAuth = domain.Errorf(domain.EUNAUTHORIZED, "", "Sign in to use this coupon")
	ErrCouponNewUsersOnly = domain.Errorf(domain.EINVALID, "", "This coupon is only valid for new customers")
)

// currencySymbol prefixes user-facing amounts. The store trades in a single
// currency; amounts are stored as plain cents.
const currencySymbol = "₹"

// errCouponMinValue builds the minimum-cart-value rejection with the
// concrete threshold so the shopper knows how far away they are.
func errCouponMinValue(minCents int64) error {
	return domain.Errorf(domain.EINVALID, "",
		"A minimum cart value of %s is required to use this coupon", formatCents(minCents))
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%s%d.%02d", currencySymbol, cents/100, cents%100)
}
