// Package proxyerr classifies relay failures into a stable wire shape.
//
// Every failure that occurs before any response byte has been written to
// the caller maps to one Error carrying a kind and a provider-agnostic
// message. The JSON envelope is deliberately distinct from anything an
// upstream provider emits, so callers can tell "the relay failed" apart
// from "the relay delivered an upstream failure".
package proxyerr

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// Kind identifies a proxy-originated failure class.
type Kind string

// Failure kinds. The string values are part of the wire contract.
const (
	KindInvalidRequest      Kind = "invalid_request"
	KindRequestTooLarge     Kind = "request_too_large"
	KindNotFound            Kind = "not_found"
	KindMethodNotAllowed    Kind = "method_not_allowed"
	KindMisconfigured       Kind = "provider_misconfigured"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindRequestCancelled    Kind = "request_cancelled"
	KindRateLimited         Kind = "rate_limited"
	KindInternal            Kind = "internal_error"
	KindUpstreamError       Kind = "upstream_error"
)

// kindStatus maps each kind to the HTTP status it is reported with.
var kindStatus = map[Kind]int{
	KindInvalidRequest:      http.StatusBadRequest,
	KindRequestTooLarge:     http.StatusRequestEntityTooLarge,
	KindNotFound:            http.StatusNotFound,
	KindMethodNotAllowed:    http.StatusMethodNotAllowed,
	KindMisconfigured:       http.StatusBadGateway,
	KindUpstreamUnreachable: http.StatusBadGateway,
	KindUpstreamTimeout:     http.StatusBadGateway,
	KindRequestCancelled:    http.StatusBadGateway,
	KindRateLimited:         http.StatusTooManyRequests,
	KindInternal:            http.StatusInternalServerError,
	KindUpstreamError:       http.StatusBadGateway,
}

// kindMessage holds the generic outward message per kind. Messages never
// carry upstream detail, endpoints, or credential material.
var kindMessage = map[Kind]string{
	KindInvalidRequest:      "the request was malformed",
	KindRequestTooLarge:     "request body exceeds the configured limit",
	KindNotFound:            "the requested resource was not found",
	KindMethodNotAllowed:    "method not allowed",
	KindMisconfigured:       "proxy provider configuration error",
	KindUpstreamUnreachable: "upstream host unreachable",
	KindUpstreamTimeout:     "upstream request timed out",
	KindRequestCancelled:    "client disconnected",
	KindRateLimited:         "rate limit exceeded",
	KindInternal:            "internal proxy error",
	KindUpstreamError:       "upstream request failed",
}

// Error is a classified proxy failure.
type Error struct {
	Kind Kind
	err  error // underlying cause, for logs only
}

// New returns an Error of the given kind wrapping cause (which may be nil).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, err: cause}
}

func (e *Error) Error() string {
	if e.err != nil {
		return string(e.Kind) + ": " + e.err.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// Status returns the HTTP status code the error is reported with.
func (e *Error) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusBadGateway
}

// Message returns the generic outward message for the error's kind.
func (e *Error) Message() string {
	if m, ok := kindMessage[e.Kind]; ok {
		return m
	}
	return kindMessage[KindUpstreamError]
}

// Envelope is the stable JSON error body emitted for every proxy failure.
type Envelope struct {
	Type  string `json:"type"`
	Error Detail `json:"error"`
}

// Detail carries the kind and message inside an Envelope.
type Detail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewEnvelope builds the wire envelope for a kind and message.
func NewEnvelope(kind Kind, message string) Envelope {
	return Envelope{
		Type:  "error",
		Error: Detail{Type: string(kind), Message: message},
	}
}

// Classify maps an error from the relay path to a classified Error.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	// The inbound body-limit reader surfaces a 413 echo.HTTPError through
	// the upstream client when a chunked request trips the ceiling
	// mid-forward.
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return New(KindRequestTooLarge, err)
	}

	if errors.Is(err, context.Canceled) {
		return New(KindRequestCancelled, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(KindUpstreamTimeout, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return New(KindUpstreamUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return New(KindUpstreamUnreachable, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return New(KindUpstreamUnreachable, err)
	}

	return New(KindUpstreamError, err)
}
