package domain

import (
	"time"

	"github.com/google/uuid"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountFlat subtracts a fixed amount, capped at the subtotal.
	DiscountFlat DiscountType = "flat"
	// DiscountPercent subtracts a percentage of the eligible merchandise
	// total, optionally capped at MaxDiscountCents.
	DiscountPercent DiscountType = "percent"
)

// CouponRule is a coupon as configured in the catalog. The cart stores only
// an AppliedCoupon snapshot; eligibility is checked against the rule at
// apply time.
type CouponRule struct {
	ID           uuid.UUID
	Code         string
	DiscountType DiscountType

	// ValueCents is the flat amount for DiscountFlat.
	ValueCents int64

	// PercentBps is the percentage in basis points for DiscountPercent
	// (e.g., 1500 = 15%). Basis points avoid float drift in money math.
	PercentBps int64

	// MaxDiscountCents caps a percentage discount. Zero means uncapped.
	MaxDiscountCents int64

	// MinCartValueCents is the minimum eligible merchandise total
	// (after per-item discounts, before shipping). Zero means no minimum.
	MinCartValueCents int64

	StartsAt *time.Time
	EndsAt   *time.Time

	// UsageLimit caps total redemptions. Zero means unlimited.
	UsageLimit int64
	UsedCount  int64

	NewUsersOnly bool
	Active       bool
}

// InWindow reports whether the coupon's activity window covers now.
// A nil boundary is open-ended on that side.
func (r *CouponRule) InWindow(now time.Time) bool {
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	return true
}

// HasHeadroom reports whether the usage limit still allows a redemption.
func (r *CouponRule) HasHeadroom() bool {
	return r.UsageLimit == 0 || r.UsedCount < r.UsageLimit
}

// DiscountFor computes the raw discount for an eligible merchandise total.
// Percentage amounts round half-up to the nearest cent. The caller clamps
// the result to the cart subtotal.
func (r *CouponRule) DiscountFor(eligibleCents int64) int64 {
	switch r.DiscountType {
	case DiscountFlat:
		return r.ValueCents
	case DiscountPercent:
		d := (eligibleCents*r.PercentBps + 5000) / 10000
		if r.MaxDiscountCents > 0 && d > r.MaxDiscountCents {
			d = r.MaxDiscountCents
		}
		return d
	default:
		return 0
	}
}
