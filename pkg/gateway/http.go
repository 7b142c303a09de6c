package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/antcode/antcode/pkg/logstore"
	"github.com/antcode/antcode/pkg/metrics"
	"github.com/antcode/antcode/pkg/queue"
)

// HTTPServer exposes the Gateway's non-gRPC surface: liveness/readiness
// probes, Prometheus metrics, and presigned log URLs (a redirect for
// download, a JSON description for upload) so a Worker never needs direct
// object-store credentials.
type HTTPServer struct {
	Queue queue.Queue
	Logs  logstore.Backend
	mux   http.Handler
}

// NewHTTPServer wires the chi router; call Handler to embed it, or Start to
// run it standalone.
func NewHTTPServer(q queue.Queue, logs logstore.Backend) *HTTPServer {
	hs := &HTTPServer{Queue: q, Logs: logs}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/health", hs.healthHandler)
	r.Get("/ready", hs.readyHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/logs/{runID}/{logType}/download-url", hs.downloadURLHandler)
	r.Post("/logs/{runID}/upload-url", hs.uploadURLHandler)

	hs.mux = r
	return hs
}

// Handler returns the HTTP handler for embedding in another server.
func (hs *HTTPServer) Handler() http.Handler { return hs.mux }

// Start runs the HTTP surface standalone until the listener fails; it has no
// shutdown path of its own.
func (hs *HTTPServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type healthResponse struct {
	Status string `json:"status"`
}

func (hs *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (hs *HTTPServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if hs.Queue != nil {
		if _, err := hs.Queue.Stats(r.Context(), "antcode:task:ready"); err != nil {
			checks["queue"] = "error: " + err.Error()
			ready = false
		} else {
			checks["queue"] = "ok"
		}
	} else {
		checks["queue"] = "not configured"
		ready = false
	}

	status := http.StatusOK
	resp := readyResponse{Status: "ready", Checks: checks}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "not ready"
	}
	writeJSON(w, status, resp)
}

func (hs *HTTPServer) downloadURLHandler(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	logType := chi.URLParam(r, "logType")
	url, err := hs.Logs.PresignedDownloadURL(r.Context(), runID, logType, 15*time.Minute)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

type uploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (hs *HTTPServer) uploadURLHandler(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	upload, err := hs.Logs.PresignedUploadURL(r.Context(), runID, req.Filename, req.ContentType, 15*time.Minute)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
