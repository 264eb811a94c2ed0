// Package shipping estimates shipping cost for a cart. Real carrier
// integration lives elsewhere; the storefront only needs a flat-rate
// estimate with a free-shipping threshold.
package shipping

// Fallback rates used when configuration leaves the estimator unset.
const (
	DefaultFreeThresholdCents int64 = 100000
	DefaultFlatRateCents      int64 = 999
)

// Estimator computes the shipping portion of cart totals from the
// after-discount merchandise amount.
type Estimator struct {
	freeThresholdCents int64
	flatRateCents      int64
}

// NewEstimator creates an estimator. Non-positive values fall back to the
// hardcoded defaults so an unconfigured deployment still ships sane totals.
func NewEstimator(freeThresholdCents, flatRateCents int64) *Estimator {
	if freeThresholdCents <= 0 {
		freeThresholdCents = DefaultFreeThresholdCents
	}
	if flatRateCents <= 0 {
		flatRateCents = DefaultFlatRateCents
	}
	return &Estimator{
		freeThresholdCents: freeThresholdCents,
		flatRateCents:      flatRateCents,
	}
}

// Estimate returns the shipping cost for the given merchandise total.
// Empty carts ship free; carts at or above the threshold ship free.
func (e *Estimator) Estimate(merchandiseCents int64) int64 {
	if merchandiseCents <= 0 {
		return 0
	}
	if merchandiseCents >= e.freeThresholdCents {
		return 0
	}
	return e.flatRateCents
}
