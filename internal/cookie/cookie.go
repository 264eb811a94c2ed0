// Package cookie provides the cart cookie helpers. The cookie carries only
// the opaque cart token, never contents; ownership checks happen at
// resolution time so a stale cookie can never leak another user's cart.
package cookie

import "net/http"

// CartCookieName stores the guest cart token.
const CartCookieName = "cart_id"

// CartCookieMaxAge matches the cart TTL (30 days).
const CartCookieMaxAge = 30 * 24 * 60 * 60

// Config holds cookie security configuration.
type Config struct {
	// Secure requires HTTPS for the cookie. True in production.
	Secure bool
}

// NewConfig creates a cookie configuration.
func NewConfig(secure bool) *Config {
	return &Config{Secure: secure}
}

// SetCart sets the long-lived cart cookie.
func (c *Config) SetCart(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CartCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CartCookieMaxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCart removes the cart cookie.
func (c *Config) ClearCart(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CartCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Get retrieves a cookie value from the request.
// Returns empty string if the cookie is not present.
func Get(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
