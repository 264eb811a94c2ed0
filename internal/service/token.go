package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// newCartToken generates the opaque external cart handle. 24 random bytes
// gives 192 bits, enough that tokens are unguessable and never reused.
func newCartToken() (string, error) {
	return randomToken(24)
}

// newCheckoutToken generates the checkout lock token.
func newCheckoutToken() (string, error) {
	return randomToken(32)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newOrderNumber generates a human-readable order number with a random
// suffix. Uniqueness is enforced by the database; a collision surfaces as
// an insert failure, not a duplicate order.
func newOrderNumber(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%X", now.Format("20060102"), b), nil
}
