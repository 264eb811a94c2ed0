// Package tax computes the tax portion of cart totals. The storefront ships
// with a no-tax default; jurisdictions that need it can swap in the
// percentage calculator without touching cart code.
package tax

// Calculator computes tax for an after-discount merchandise amount.
type Calculator interface {
	Calculate(merchandiseCents int64) int64
}

// NoTax returns zero tax for every amount.
type NoTax struct{}

// NewNoTax creates the no-op calculator.
func NewNoTax() Calculator {
	return NoTax{}
}

// Calculate implements Calculator.
func (NoTax) Calculate(merchandiseCents int64) int64 {
	return 0
}

// Percentage applies a fixed rate in basis points, rounding half up.
type Percentage struct {
	rateBps int64
}

// NewPercentage creates a fixed-rate calculator (e.g., 825 = 8.25%).
func NewPercentage(rateBps int64) Calculator {
	if rateBps < 0 {
		rateBps = 0
	}
	return Percentage{rateBps: rateBps}
}

// Calculate implements Calculator.
func (p Percentage) Calculate(merchandiseCents int64) int64 {
	if merchandiseCents <= 0 {
		return 0
	}
	return (merchandiseCents*p.rateBps + 5000) / 10000
}
