package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dukerupert/sindri/internal/auth"
)

const userContextKey = "auth_user"

// WithUser parses an optional bearer token and stores the verified user ID
// for downstream handlers. Requests without a token, or with an invalid
// one, proceed unauthenticated; guards that need identity use RequireAuth.
func WithUser(verifier *auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return next(c)
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				return next(c)
			}

			SetUserID(c, claims.UserID)
			return next(c)
		}
	}
}

// RequireAuth rejects unauthenticated requests with the standard error
// envelope.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := GetUserID(c); !ok {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"success":   false,
					"message":   "Authentication required",
					"errorCode": "unauthorized",
				})
			}
			return next(c)
		}
	}
}

// SetUserID stores the authenticated user's ID on the request context.
func SetUserID(c echo.Context, id uuid.UUID) {
	c.Set(userContextKey, id)
}

// GetUserID returns the authenticated user's ID, if any.
func GetUserID(c echo.Context) (uuid.UUID, bool) {
	id, ok := c.Get(userContextKey).(uuid.UUID)
	return id, ok
}
