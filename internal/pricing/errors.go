package pricing

import "errors"

// ErrPriceNotFound indicates no price exists for the product/variant pair.
var ErrPriceNotFound = errors.New("price not found")
