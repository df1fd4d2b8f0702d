package ingestor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter constructs a ServeMux with upload API routes registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/documents", h.HandleUpload)
	mux.HandleFunc("/upload", h.HandleUpload) // legacy path

	mux.HandleFunc("/healthz", h.Health)

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
