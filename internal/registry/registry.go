// Package registry holds the immutable provider allowlist.
//
// The registry is built once at startup from configuration and shared
// read-only by all concurrent requests. Every validation failure here is
// fatal: the process must refuse to serve rather than degrade, so a missing
// credential or a non-HTTPS endpoint stops the fx graph before the listener
// binds.
package registry

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"isoproxy-go/internal/config"
)

// Provider is one allowlisted upstream with its resolved credential.
// Immutable after construction.
type Provider struct {
	Name       string
	Endpoint   *url.URL
	Credential string
}

// IsAnthropic reports whether the provider speaks the Anthropic API dialect
// and therefore needs the anthropic-version and x-api-key headers injected.
func (p *Provider) IsAnthropic() bool {
	return strings.Contains(strings.ToLower(p.Name), "anthropic")
}

// Registry maps provider names to resolved providers.
type Registry struct {
	providers map[string]*Provider
	active    string
}

// New builds a Registry from config, resolving each provider's credential
// from its configured environment variable. It fails on the first provider
// with a missing credential or a non-HTTPS endpoint.
func New(cfg *config.Config) (*Registry, error) {
	providers := make(map[string]*Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		u, err := url.Parse(pc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("registry: provider %q: parse endpoint: %w", name, err)
		}
		if u.Scheme != "https" {
			return nil, fmt.Errorf("registry: provider %q: endpoint must use HTTPS; got %q", name, pc.Endpoint)
		}
		key := os.Getenv(pc.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("registry: provider %q: credential not found in environment variable %s", name, pc.APIKeyEnv)
		}
		providers[name] = &Provider{
			Name:       name,
			Endpoint:   u,
			Credential: key,
		}
	}

	if _, ok := providers[cfg.Relay.Provider]; !ok {
		return nil, fmt.Errorf("registry: active provider %q is not in the provider table", cfg.Relay.Provider)
	}

	return &Registry{providers: providers, active: cfg.Relay.Provider}, nil
}

// NewForTest builds a single-provider registry without HTTPS or credential
// validation. This is intended only for tests that use httptest servers.
func NewForTest(name, endpoint, credential string) (*Registry, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("registry: parse endpoint: %w", err)
	}
	return &Registry{
		providers: map[string]*Provider{
			name: {Name: name, Endpoint: u, Credential: credential},
		},
		active: name,
	}, nil
}

// Lookup returns the provider for the given name.
func (r *Registry) Lookup(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Active returns the configured active provider name.
func (r *Registry) Active() string {
	return r.active
}
