package ingestor

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/docflow-systems/docflow-stack/common/logging"
)

// maxUploadBytes caps one upload; oversized documents belong on a bulk
// transfer path, not this endpoint.
const maxUploadBytes = 32 << 20 // 32MB

// Handler exposes the upload API.
type Handler struct {
	service *Service
	limiter RateLimiter
	logger  *logging.Logger
}

// NewHandler creates the upload handler.
func NewHandler(service *Service, limiter RateLimiter, logger *logging.Logger) *Handler {
	if limiter == nil {
		limiter = NoOpRateLimiter{}
	}
	return &Handler{
		service: service,
		limiter: limiter,
		logger:  logger,
	}
}

// HandleUpload accepts a multipart document upload: a required "file"
// part and optional "sender" and "urgency" form fields.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientKey := clientIP(r)
	allowed, err := h.limiter.Allow(r.Context(), clientKey)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable, allowing upload", logging.Error(err))
	} else if !allowed {
		h.sendError(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.sendError(w, "invalid multipart request", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, "failed to read file", http.StatusBadRequest)
		return
	}
	if len(content) == 0 {
		h.sendError(w, "empty file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	receipt, err := h.service.Ingest(r.Context(), &Upload{
		Filename:    header.Filename,
		ContentType: contentType,
		Content:     content,
		Sender:      r.FormValue("sender"),
		Source:      "api_upload",
		UrgencyText: r.FormValue("urgency"),
	})
	if err != nil {
		h.sendError(w, "failed to enqueue document", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(receipt)
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func (h *Handler) sendError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
