package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/queue"
)

func newTestHTTPServer(t *testing.T) *HTTPServer {
	t.Helper()
	return NewHTTPServer(queue.NewMemoryQueue(), logstore.NewLocalLogStore(t.TempDir()))
}

func TestHTTPServerHealth(t *testing.T) {
	hs := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHTTPServerReady(t *testing.T) {
	hs := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a configured queue, got %d", rec.Code)
	}
}

func TestHTTPServerReadyWithoutQueueUnavailable(t *testing.T) {
	hs := NewHTTPServer(nil, logstore.NewLocalLogStore(t.TempDir()))
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a queue, got %d", rec.Code)
	}
}

func TestHTTPServerUploadURLRoundTrips(t *testing.T) {
	hs := newTestHTTPServer(t)
	body := `{"filename":"build.log","content_type":"text/plain"}`
	req := httptest.NewRequest(http.MethodPost, "/logs/run-1/upload-url", strings.NewReader(body))
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPServerMetricsExposesPrometheusFormat(t *testing.T) {
	hs := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
