// Package middleware provides Echo middleware for logging and security.
package middleware

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that emits one structured event
// per request. In metadata mode (Info) the event carries request metadata
// only; in debug mode (Debug) it additionally lists inbound header names.
// Body content and header values are never logged.
//
// The event is emitted from a defer so it also fires when a truncated
// stream aborts the handler with http.ErrAbortHandler; the panic itself
// continues to propagate past the outer Recover middleware.
func RequestLogger(logger *slog.Logger, provider string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			defer func() {
				req := c.Request()
				res := c.Response()

				attrs := []any{
					"method", req.Method,
					"path", req.URL.Path,
					"provider", provider,
					"status", res.Status,
					"bytes_in", req.ContentLength,
					"bytes_out", res.Size,
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", res.Header().Get(echo.HeaderXRequestID),
					"remote_ip", c.RealIP(),
				}
				if kind, ok := c.Get("failure_kind").(string); ok && kind != "" {
					attrs = append(attrs, "failure_kind", kind)
				}

				logger.Info("request", attrs...)
				logger.Debug("request headers", "names", headerNames(c))
			}()

			return next(c)
		}
	}
}

// headerNames returns the sorted inbound header names. Values are dropped
// entirely so credential material cannot leak through debug logs.
func headerNames(c echo.Context) string {
	names := make([]string, 0, len(c.Request().Header))
	for name := range c.Request().Header {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
