package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"isoproxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus
// metrics for each relay request. Counters are recorded from a defer so a
// truncated stream that aborts the handler still counts against its
// committed status; the abort panic continues past the outer Recover.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()

			start := time.Now()

			var err error
			defer func() {
				m.RequestsInFlight.Dec()

				// Resolve the actual status code. When a handler returns an
				// *echo.HTTPError, the response status hasn't been written
				// yet; Echo's central error handler will do that later. We
				// inspect the error to get the correct code. On an abort
				// panic, err is still nil and the committed status stands.
				statusCode := c.Response().Status
				if err != nil {
					var he *echo.HTTPError
					if errors.As(err, &he) {
						statusCode = he.Code
					}
				}

				status := strconv.Itoa(statusCode)
				method := metrics.NormalizeMethod(c.Request().Method)
				path := metrics.NormalizePath(c.Request().URL.Path)
				duration := time.Since(start).Seconds()

				m.RequestsTotal.WithLabelValues(method, status, path).Inc()
				m.RequestDuration.WithLabelValues(method, status, path).Observe(duration)
			}()

			err = next(c)
			return err
		}
	}
}
