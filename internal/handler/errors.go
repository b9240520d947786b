package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"isoproxy-go/internal/proxyerr"
)

// NewHTTPErrorHandler returns an Echo error handler that renders every
// framework-level failure (unsupported route or method, inbound body limit,
// rate limit, panic recovery) in the same stable envelope the relay uses,
// so proxy-originated errors are indistinguishable from each other and
// clearly distinct from upstream bodies.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		kind := kindForStatus(code)
		c.Set("failure_kind", string(kind))

		if code >= http.StatusInternalServerError {
			logger.Error("request failed", "err", err, "status", code, "path", c.Request().URL.Path)
		}

		pe := proxyerr.New(kind, err)
		if jsonErr := c.JSON(code, proxyerr.NewEnvelope(kind, pe.Message())); jsonErr != nil {
			logger.Error("writing error response", "err", jsonErr)
		}
	}
}

// kindForStatus maps framework status codes onto the stable failure kinds.
func kindForStatus(code int) proxyerr.Kind {
	switch code {
	case http.StatusNotFound:
		return proxyerr.KindNotFound
	case http.StatusMethodNotAllowed:
		return proxyerr.KindMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		return proxyerr.KindRequestTooLarge
	case http.StatusTooManyRequests:
		return proxyerr.KindRateLimited
	case http.StatusBadRequest:
		return proxyerr.KindInvalidRequest
	}
	if code >= http.StatusBadRequest && code < http.StatusInternalServerError {
		return proxyerr.KindInvalidRequest
	}
	return proxyerr.KindInternal
}
