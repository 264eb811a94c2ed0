// Package middleware holds the echo middleware chain: request IDs,
// optional bearer identity, request-scoped logging, and metrics.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	requestIDContextKey = "request_id"
)

// RequestID generates a unique request ID for each request. If the request
// already carries an X-Request-ID header (load balancer, client retry
// correlation), that value is kept.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			c.Response().Header().Set(RequestIDHeader, requestID)
			c.Set(requestIDContextKey, requestID)
			return next(c)
		}
	}
}

// GetRequestID retrieves the request ID for the current request.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(requestIDContextKey).(string); ok {
		return id
	}
	return ""
}
