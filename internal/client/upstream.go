// Package client provides the upstream HTTP client for provider endpoints.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"isoproxy-go/internal/config"
	"isoproxy-go/internal/metrics"
	"isoproxy-go/internal/model"
)

// UpstreamClient sends requests to the allowlisted provider endpoints.
//
// Client.Timeout bounds the whole exchange including the body read, so it
// acts as the total-relay ceiling even when the upstream response is a
// stream that stalls mid-transfer. Transport.ResponseHeaderTimeout bounds
// the time from sending the request to receiving upstream's status line.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and
// the configured deadlines. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := time.Duration(cfg.Relay.TimeoutSeconds) * time.Second

	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.Passthrough, error) {
	c.logger.Debug("upstream request",
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via Passthrough
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(req.URL.Host).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(req.URL.Host).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(req.URL.Host, status).Inc()
	}

	return &model.Passthrough{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a POST and returns the response body as a stream.
// The caller is responsible for closing the returned body. The provided
// context controls the lifetime of the upstream request: when it is
// canceled (e.g. the caller disconnects), the upstream request is aborted
// promptly rather than left to run to completion.
func (c *UpstreamClient) DoStream(ctx context.Context, url string, header http.Header, body io.Reader) (*model.Passthrough, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}
