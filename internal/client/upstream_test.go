package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"isoproxy-go/internal/config"
)

func testConfig(timeoutSeconds int) *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{TimeoutSeconds: timeoutSeconds},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDoStream_ForwardsBodyAndReturnsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "request-payload" {
			t.Errorf("upstream body = %q, want %q", body, "request-payload")
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("response-payload"))
	}))
	defer upstream.Close()

	c := NewUpstreamClient(testConfig(10), testLogger(), nil)

	resp, err := c.DoStream(context.Background(), upstream.URL, http.Header{}, strings.NewReader("request-payload"))
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "response-payload" {
		t.Errorf("body = %q, want %q", body, "response-payload")
	}
}

func TestDoStream_ConnectionRefused(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	c := NewUpstreamClient(testConfig(10), testLogger(), nil)

	_, err := c.DoStream(context.Background(), deadURL, http.Header{}, strings.NewReader("{}"))
	if err == nil {
		t.Fatal("DoStream() expected error for refused connection, got nil")
	}
	if !strings.Contains(err.Error(), "upstream request") {
		t.Errorf("error should be wrapped with context; got %v", err)
	}
}

func TestDoStream_HeaderDeadline(t *testing.T) {
	blocked := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-blocked:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(blocked)

	c := NewUpstreamClient(testConfig(1), testLogger(), nil)

	_, err := c.DoStream(context.Background(), upstream.URL, http.Header{}, strings.NewReader("{}"))
	if err == nil {
		t.Fatal("DoStream() expected timeout error, got nil")
	}
}
