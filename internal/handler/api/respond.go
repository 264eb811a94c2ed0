// Package api implements the JSON storefront surface. Every mutating cart
// endpoint returns the full updated cart so clients never need a follow-up
// read; rejections carry a specific message and a machine-readable code.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/middleware"
)

// errorResponse is the failure envelope.
type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// logInternal records the full error (Op and wrapped cause) for 500s. The
// client only ever sees the generic message.
func logInternal(c echo.Context, logger zerolog.Logger, err error) {
	if domain.ErrorCode(err) != domain.EINTERNAL {
		return
	}
	l := middleware.GetLogger(c, logger)
	l.Error().
		Err(err).
		Str("request_id", middleware.GetRequestID(c)).
		Msg("internal error")
}

// respondError maps a domain error to its HTTP status and envelope. When
// the error carries a reason token that becomes the errorCode; otherwise
// the generic code class is used. Internal errors are logged before the
// client gets the generic message.
func respondError(c echo.Context, logger zerolog.Logger, err error) error {
	logInternal(c, logger, err)
	code := domain.ErrorCode(err)

	errorCode := domain.ErrorReason(err)
	if errorCode == "" {
		errorCode = code
	}

	return c.JSON(statusFromCode(code), errorResponse{
		Success:   false,
		Message:   domain.ErrorMessage(err),
		ErrorCode: errorCode,
	})
}

func statusFromCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
