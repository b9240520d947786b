package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"isoproxy-go/internal/registry"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	reg     *registry.Registry
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(reg *registry.Registry, v Version) *HealthHandler {
	return &HealthHandler{reg: reg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. Endpoint hosts only; credential
// material is never part of any returned value.
func (h *HealthHandler) Status(c echo.Context) error {
	host := ""
	if p, ok := h.reg.Lookup(h.reg.Active()); ok {
		host = p.Endpoint.Host
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":        "ok",
		"version":       string(h.version),
		"provider":      h.reg.Active(),
		"upstream_host": host,
	})
}
