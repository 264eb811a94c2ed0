// Package pricing resolves live prices for cart lines. Carts never store
// prices; they ask the resolver at read and recompute time so a week-old
// cart cannot present a week-old price.
package pricing

import "context"

// Quote is the current price for a product/variant pair.
type Quote struct {
	// UnitCents is the regular price.
	UnitCents int64

	// DiscountCents is the discounted price, or zero when no discount
	// applies. A non-positive discount price is ignored.
	DiscountCents int64
}

// EffectiveCents returns the price a buyer actually pays: the discount
// price when set and positive, otherwise the regular price.
func (q Quote) EffectiveCents() int64 {
	if q.DiscountCents > 0 {
		return q.DiscountCents
	}
	return q.UnitCents
}

// Resolver looks up live prices. Implementations must return ErrPriceNotFound
// for unknown product/variant pairs so callers can distinguish "no such
// product" from infrastructure failure.
type Resolver interface {
	ResolvePrice(ctx context.Context, productID, variantID string) (Quote, error)
}
