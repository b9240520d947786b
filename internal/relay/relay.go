// Package relay implements the bounded forwarding core.
//
// The relay resolves the active provider, injects its credential, forwards
// the inbound body upstream as a stream, and hands back the upstream
// response with its body wrapped in a byte-ceiling reader. Message content
// is never inspected or rewritten.
package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"isoproxy-go/internal/client"
	"isoproxy-go/internal/config"
	"isoproxy-go/internal/model"
	"isoproxy-go/internal/registry"
)

// messagesPath is the single upstream route the relay forwards to.
const messagesPath = "/v1/messages"

// anthropicVersion is the API version header value injected for Anthropic
// dialect providers.
const anthropicVersion = "2023-06-01"

// forwardableRequestHeaders are the only caller headers forwarded upstream.
// Credential-shaped headers (Authorization, X-Api-Key, Cookie) are absent on
// purpose: the caller's own credential, if any, is discarded.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Content-Type",
	"Content-Length",
}

// forwardableResponseHeaders are the only upstream headers relayed to the caller.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"Retry-After":      true,
	"Request-Id":       true,
}

const userAgent = "isoproxy-go/1.0"

// Relay forwards inbound requests to the active provider.
type Relay struct {
	client   *client.UpstreamClient
	provider *registry.Provider
	limits   config.RelayConfig
	logger   *slog.Logger
}

// New creates a Relay bound to the configured active provider. The registry
// validated the provider table at startup, so a lookup miss here is a fatal
// configuration invariant violation.
func New(c *client.UpstreamClient, reg *registry.Registry, cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	p, ok := reg.Lookup(cfg.Relay.Provider)
	if !ok {
		return nil, fmt.Errorf("relay: active provider %q missing from registry", cfg.Relay.Provider)
	}

	return &Relay{
		client:   c,
		provider: p,
		limits:   cfg.Relay,
		logger:   logger.With("component", "relay"),
	}, nil
}

// Provider returns the name of the active provider.
func (r *Relay) Provider() string {
	return r.provider.Name
}

// Forward sends a RelayRequest to the active provider and returns the
// upstream response for verbatim streaming. The caller is responsible for
// closing the response body. The returned body enforces the response byte
// ceiling: reads past the limit fail with ErrResponseTooLarge.
//
// The inbound body is streamed upstream, never buffered; the inbound byte
// ceiling is enforced by the body reader itself, so an oversized chunked
// request aborts the upstream call with a classified error.
func (r *Relay) Forward(pr *model.RelayRequest) (*model.Passthrough, error) {
	header := r.buildUpstreamHeaders(pr.Header)

	r.logger.Debug("forwarding request",
		"provider", r.provider.Name,
		"content_length", pr.ContentLength,
	)

	resp, err := r.client.DoStream(pr.Ctx, r.upstreamURL(), header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = r.filterResponseHeaders(resp.Header)
	resp.Body = NewByteLimitReadCloser(resp.Body, r.limits.MaxResponseBytes)
	return resp, nil
}

// upstreamURL returns the fixed messages endpoint on the active provider.
func (r *Relay) upstreamURL() string {
	u := *r.provider.Endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + messagesPath
	return u.String()
}

// buildUpstreamHeaders filters the caller's headers through the allowlist
// and injects the provider credential. Whatever credential the caller sent
// never appears in the result.
func (r *Relay) buildUpstreamHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	// Forward API dialect headers (anthropic-beta etc.), but never a
	// caller-supplied credential even if it arrives under such a name.
	for key, vals := range src {
		if strings.HasPrefix(strings.ToLower(key), "anthropic-") {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
	dst.Set("User-Agent", userAgent)

	dst.Set("Authorization", "Bearer "+r.provider.Credential)
	if r.provider.IsAnthropic() {
		dst.Set("X-Api-Key", r.provider.Credential)
		dst.Set("Anthropic-Version", anthropicVersion)
	}

	return dst
}

func (r *Relay) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if forwardableResponseHeaders[canonical] || strings.HasPrefix(strings.ToLower(key), "anthropic-") {
			dst[canonical] = vals
		}
	}
	return dst
}
