package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const loggerContextKey = "logger"

// RequestLogger attaches a request-scoped logger to the context and writes
// one line per completed request. Place after RequestID and WithUser so
// both fields are available.
func RequestLogger(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			logCtx := base.With().
				Str("method", req.Method).
				Str("path", req.URL.Path)
			if requestID := GetRequestID(c); requestID != "" {
				logCtx = logCtx.Str("request_id", requestID)
			}
			if userID, ok := GetUserID(c); ok {
				logCtx = logCtx.Str("user_id", userID.String())
			}

			logger := logCtx.Logger()
			c.Set(loggerContextKey, logger)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info().
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("request")

			return err
		}
	}
}

// GetLogger retrieves the request-scoped logger, falling back to the
// provided logger when middleware did not run (tests).
func GetLogger(c echo.Context, fallback zerolog.Logger) zerolog.Logger {
	if logger, ok := c.Get(loggerContextKey).(zerolog.Logger); ok {
		return logger
	}
	return fallback
}
