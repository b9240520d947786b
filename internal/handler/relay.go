package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"isoproxy-go/internal/metrics"
	"isoproxy-go/internal/model"
	"isoproxy-go/internal/proxyerr"
	"isoproxy-go/internal/relay"
)

// RelayHandler serves POST /v1/messages by streaming the request through
// the relay core and the upstream response back verbatim.
type RelayHandler struct {
	relay   *relay.Relay
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayHandler creates a RelayHandler. The metrics parameter is optional.
func NewRelayHandler(r *relay.Relay, logger *slog.Logger, m *metrics.Metrics) *RelayHandler {
	return &RelayHandler{
		relay:   r,
		logger:  logger.With("component", "relay_handler"),
		metrics: m,
	}
}

// Handle forwards the request upstream and streams the response back.
//
// Failures are classified and written as the stable error envelope only
// while nothing has been sent to the caller. Once the upstream status line
// is committed, a mid-stream failure can only surface as a truncated body:
// hitting the response byte ceiling aborts the connection abnormally so the
// caller cannot mistake the cut-off for a complete response.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.RelayRequest{
		Ctx:           req.Context(),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.relay.Forward(pr)
	if err != nil {
		return h.writeFailure(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body to the caller, flushing per chunk so
	// server-sent events arrive as they are produced. The byte ceiling is
	// enforced by the reader the relay wrapped around the body.
	_, err = io.Copy(flushWriter{c.Response()}, resp.Body)
	if err == nil {
		return nil
	}

	if errors.Is(err, relay.ErrResponseTooLarge) {
		c.Set("failure_kind", "response_truncated")
		h.logger.Warn("response truncated at byte ceiling",
			"status", resp.StatusCode,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		if h.metrics != nil {
			h.metrics.TruncationsTotal.Inc()
		}
		// Abort the connection without a terminating chunk; a clean EOF
		// here would look like a complete response.
		panic(http.ErrAbortHandler)
	}

	// Client disconnect or upstream failure mid-stream. The status code is
	// already on the wire, so the caller sees a truncated body with the
	// original status. Log it and move on.
	h.logger.Error("streaming response body",
		"err", err,
		"path", req.URL.Path,
	)
	return nil
}

// writeFailure classifies err and emits the stable error envelope.
func (h *RelayHandler) writeFailure(c echo.Context, err error) error {
	pe := proxyerr.Classify(err)
	c.Set("failure_kind", string(pe.Kind))

	level := slog.LevelWarn
	if pe.Kind == proxyerr.KindMisconfigured {
		// Registry validation should have made this impossible; alert.
		level = slog.LevelError
	}
	h.logger.Log(c.Request().Context(), level, "relay failed",
		"kind", string(pe.Kind),
		"err", err,
		"path", c.Request().URL.Path,
	)

	return c.JSON(pe.Status(), proxyerr.NewEnvelope(pe.Kind, pe.Message()))
}

// flushWriter flushes after every write so streamed upstream bodies are
// relayed without buffering delay.
type flushWriter struct {
	w interface {
		io.Writer
		http.Flusher
	}
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if n > 0 {
		f.w.Flush()
	}
	return n, err
}
