// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// RelayRequest represents an inbound request to be forwarded upstream.
// The body is opaque; it is never parsed beyond size accounting.
type RelayRequest struct {
	Ctx           context.Context
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// Passthrough represents an upstream response to be streamed back verbatim.
// An upstream 4xx/5xx with a body is still a Passthrough, not a proxy failure.
type Passthrough struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
