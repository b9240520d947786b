package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"isoproxy-go/internal/client"
	"isoproxy-go/internal/config"
	"isoproxy-go/internal/model"
	"isoproxy-go/internal/registry"
)

func testConfig(provider string) *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			Provider:         provider,
			MaxRequestBytes:  1024,
			MaxResponseBytes: 1024,
			TimeoutSeconds:   10,
		},
	}
}

func newTestRelay(t *testing.T, providerName, endpoint, credential string) *Relay {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(providerName)
	reg, err := registry.NewForTest(providerName, endpoint, credential)
	if err != nil {
		t.Fatalf("NewForTest: %v", err)
	}
	c := client.NewUpstreamClient(cfg, logger, nil)
	r, err := New(c, reg, cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestBuildUpstreamHeaders_CredentialInjection(t *testing.T) {
	r := newTestRelay(t, "anthropic", "https://api.anthropic.com", "sk-secret")

	src := http.Header{
		"Accept":          {"application/json"},
		"Content-Type":    {"application/json"},
		"Authorization":   {"Bearer caller-supplied"},
		"X-Api-Key":       {"caller-supplied"},
		"Cookie":          {"session=abc"},
		"Anthropic-Beta":  {"tools-2024-04-04"},
		"X-Forwarded-For": {"1.2.3.4"},
	}

	dst := r.buildUpstreamHeaders(src)

	if got := dst.Get("Authorization"); got != "Bearer sk-secret" {
		t.Errorf("Authorization = %q, want injected registry credential", got)
	}
	if got := dst.Get("X-Api-Key"); got != "sk-secret" {
		t.Errorf("X-Api-Key = %q, want injected registry credential", got)
	}
	if got := dst.Get("Anthropic-Version"); got != anthropicVersion {
		t.Errorf("Anthropic-Version = %q, want %q", got, anthropicVersion)
	}
	if got := dst.Get("Anthropic-Beta"); got != "tools-2024-04-04" {
		t.Errorf("Anthropic-Beta = %q, want forwarded", got)
	}
	if got := dst.Get("Cookie"); got != "" {
		t.Errorf("Cookie = %q, want stripped", got)
	}
	if got := dst.Get("X-Forwarded-For"); got != "" {
		t.Errorf("X-Forwarded-For = %q, want stripped", got)
	}
	if got := dst.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}
	for _, vals := range dst {
		for _, v := range vals {
			if strings.Contains(v, "caller-supplied") {
				t.Fatalf("caller credential leaked into upstream headers: %v", dst)
			}
		}
	}
}

func TestBuildUpstreamHeaders_NonAnthropicProvider(t *testing.T) {
	r := newTestRelay(t, "acme", "https://inference.acme.example", "sk-acme")

	dst := r.buildUpstreamHeaders(http.Header{})

	if got := dst.Get("Authorization"); got != "Bearer sk-acme" {
		t.Errorf("Authorization = %q, want bearer credential", got)
	}
	if got := dst.Get("X-Api-Key"); got != "" {
		t.Errorf("X-Api-Key = %q, want unset for non-Anthropic provider", got)
	}
	if got := dst.Get("Anthropic-Version"); got != "" {
		t.Errorf("Anthropic-Version = %q, want unset for non-Anthropic provider", got)
	}
	if got := dst.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want default", got)
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	r := &Relay{}
	src := http.Header{
		"Content-Type":         {"application/json"},
		"Content-Length":       {"42"},
		"Retry-After":          {"30"},
		"Anthropic-Ratelimit":  {"100"},
		"Set-Cookie":           {"session=abc"},
		"Transfer-Encoding":    {"chunked"},
		"X-Internal-Upstream":  {"node-7"},
		"Date":                 {"Mon, 01 Jan 2025 00:00:00 GMT"},
		"Strict-Transport-Sec": {"max-age=0"},
	}

	dst := r.filterResponseHeaders(src)

	tests := []struct {
		key     string
		wantLen int
	}{
		{"Content-Type", 1},
		{"Content-Length", 1},
		{"Retry-After", 1},
		{"Anthropic-Ratelimit", 1},
		{"Date", 1},
		{"Set-Cookie", 0},
		{"Transfer-Encoding", 0},
		{"X-Internal-Upstream", 0},
		{"Strict-Transport-Sec", 0},
	}

	for _, tt := range tests {
		if got := len(dst.Values(tt.key)); got != tt.wantLen {
			t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
		}
	}
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"https://api.anthropic.com", "https://api.anthropic.com/v1/messages"},
		{"https://api.anthropic.com/", "https://api.anthropic.com/v1/messages"},
		{"https://gw.example.com/anthropic", "https://gw.example.com/anthropic/v1/messages"},
	}

	for _, tt := range tests {
		r := newTestRelay(t, "anthropic", tt.endpoint, "sk-x")
		if got := r.upstreamURL(); got != tt.want {
			t.Errorf("upstreamURL(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}

func TestForward_Passthrough(t *testing.T) {
	const upstreamBody = `{"id":"msg_1","content":[{"type":"text","text":"hi"}]}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("upstream method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("upstream path = %q, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want injected credential", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"model":"m","messages":[]}` {
			t.Errorf("upstream body = %q, want verbatim forward", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(upstreamBody))
	}))
	defer upstream.Close()

	r := newTestRelay(t, "anthropic", upstream.URL, "sk-test")

	pr := &model.RelayRequest{
		Ctx:           context.Background(),
		Header:        http.Header{"Content-Type": {"application/json"}},
		Body:          io.NopCloser(strings.NewReader(`{"model":"m","messages":[]}`)),
		ContentLength: 27,
	}

	resp, err := r.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != upstreamBody {
		t.Errorf("body = %q, want byte-identical upstream body", got)
	}
}

func TestForward_ResponseCeilingEnforced(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One byte over the 1024-byte test config ceiling.
		_, _ = w.Write(make([]byte, 1025))
	}))
	defer upstream.Close()

	r := newTestRelay(t, "anthropic", upstream.URL, "sk-test")

	resp, err := r.Forward(&model.RelayRequest{
		Ctx:    context.Background(),
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader("{}")),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("read error = %v, want ErrResponseTooLarge", err)
	}
	if len(got) != 1024 {
		t.Errorf("delivered %d bytes, want exactly the ceiling", len(got))
	}
}

func TestForward_CancelledContextAbortsUpstream(t *testing.T) {
	started := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can detect the
		// client abort and cancel the request context.
		_, _ = io.ReadAll(r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer upstream.Close()

	r := newTestRelay(t, "anthropic", upstream.URL, "sk-test")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := r.Forward(&model.RelayRequest{
		Ctx:    ctx,
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader("{}")),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Forward() error = %v, want context.Canceled", err)
	}
}
