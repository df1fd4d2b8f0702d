package statusd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docflow-systems/docflow-stack/common/logging"
	"github.com/docflow-systems/docflow-stack/common/messaging"
	"github.com/docflow-systems/docflow-stack/common/models"
	"github.com/docflow-systems/docflow-stack/internal/audit"
	"github.com/docflow-systems/docflow-stack/internal/pool"
	"github.com/docflow-systems/docflow-stack/internal/priority"
)

// DocumentStore is the read side of the audit store the API serves from.
type DocumentStore interface {
	ListDocuments(ctx context.Context, limit int) ([]audit.DocumentSummary, error)
	ListEvents(ctx context.Context, documentID string) ([]models.StatusEvent, error)
	FirstEvent(ctx context.Context, documentID, status string) (*models.StatusEvent, error)
}

// API serves document status queries and operator reprocess requests.
type API struct {
	store  DocumentStore
	pool   *pool.Pool
	broker messaging.Client
	logger *logging.Logger
}

// NewAPI creates the status API. broker is optional; when set, the health
// endpoint reports broker connectivity alongside its own liveness.
func NewAPI(store DocumentStore, connPool *pool.Pool, broker messaging.Client, logger *logging.Logger) *API {
	return &API{
		store:  store,
		pool:   connPool,
		broker: broker,
		logger: logger,
	}
}

// NewRouter wires the status API routes plus health and metrics endpoints.
func NewRouter(api *API) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/documents", api.HandleListDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}/events", api.HandleListEvents)
	mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", api.HandleReprocess)
	mux.HandleFunc("GET /healthz", api.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// HandleListDocuments returns the most recently active documents with
// their latest status. Optional ?limit= caps the result set.
func (a *API) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			a.sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	docs, err := a.store.ListDocuments(r.Context(), limit)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "list documents failed", logging.Error(err))
		a.sendError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if docs == nil {
		docs = []audit.DocumentSummary{}
	}

	a.sendJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// HandleListEvents returns a document's full event log, oldest first.
func (a *API) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	events, err := a.store.ListEvents(r.Context(), docID)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "list events failed",
			logging.DocumentID(docID),
			logging.Error(err),
		)
		a.sendError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if len(events) == 0 {
		a.sendError(w, http.StatusNotFound, "unknown document")
		return
	}

	a.sendJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": docID,
		"events":      events,
		"count":       len(events),
	})
}

// reprocessRequest is the optional operator-supplied body for a
// reprocess call.
type reprocessRequest struct {
	Reason     string                 `json:"reason"`
	Parameters map[string]interface{} `json:"override_parameters"`
}

// HandleReprocess re-enters a document at the extract stage. The original
// upload is recovered from the document's ingestion event and republished
// as an ordinary stage message carrying manual-override metadata, so no
// downstream stage needs to treat it specially.
func (a *API) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	ctx := logging.WithDocumentID(r.Context(), docID)

	// Body is optional; a decode failure on a non-empty body is the
	// caller's error.
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator reprocess"
	}

	ingested, err := a.store.FirstEvent(ctx, docID, models.StatusIngested)
	if err != nil {
		a.logger.ErrorContext(ctx, "ingestion record lookup failed", logging.Error(err))
		a.sendError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if ingested == nil {
		a.sendError(w, http.StatusNotFound, "no ingestion record for document")
		return
	}

	env, err := envelopeFromIngested(docID, ingested, &req)
	if err != nil {
		a.logger.ErrorContext(ctx, "ingestion record unusable", logging.Error(err))
		a.sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		a.sendError(w, http.StatusInternalServerError, "marshal envelope")
		return
	}

	subject := messaging.StageSubject(models.StageExtract, env.PriorityScore)
	if err := a.publish(ctx, subject, data); err != nil {
		a.logger.ErrorContext(ctx, "reprocess publish failed",
			logging.Error(err),
			logging.Queue(subject),
		)
		a.sendError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}

	a.logger.InfoContext(ctx, "document requeued for reprocessing",
		logging.DocumentID(docID),
		logging.Tier(env.PriorityScore),
	)

	a.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"document_id": docID,
		"status":      "reprocessing",
		"priority":    env.PriorityScore,
	})
}

// envelopeFromIngested rebuilds the extract-stage envelope from the stored
// ingestion event. Reprocessed documents always run at high priority; an
// operator asked for them by hand.
func envelopeFromIngested(docID string, ev *models.StatusEvent, req *reprocessRequest) (*models.IngestEnvelope, error) {
	encoded := detailString(ev.Details, "file_content")
	if encoded == "" {
		return nil, fmt.Errorf("ingestion event has no stored content")
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored content is not valid base64: %w", err)
	}

	return &models.IngestEnvelope{
		DocumentID:     docID,
		Filename:       detailString(ev.Details, "filename"),
		ContentType:    detailString(ev.Details, "content_type"),
		Payload:        payload,
		PriorityScore:  priority.TierHigh.String(),
		PriorityReason: "manual reprocess",
		Sender:         detailString(ev.Details, "sender"),
		Source:         "manual_reprocess",
		Override: models.Override{
			EventType:  "manual_override",
			Reason:     req.Reason,
			Parameters: req.Parameters,
		},
	}, nil
}

func detailString(details map[string]interface{}, key string) string {
	if details == nil {
		return ""
	}
	s, _ := details[key].(string)
	return s
}

func (a *API) publish(ctx context.Context, subject string, data []byte) error {
	conn, err := a.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer a.pool.Return(conn)

	return conn.PublishDurable(ctx, subject, data)
}

// Health reports liveness and, when a broker client is attached, broker
// connectivity.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if a.broker != nil {
		hs := messaging.CheckClientHealth(r.Context(), a.broker)
		body["broker"] = hs
		if !hs.Connected {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	a.sendJSON(w, status, body)
}

func (a *API) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("write response failed", logging.Error(err))
	}
}

func (a *API) sendError(w http.ResponseWriter, status int, msg string) {
	a.sendJSON(w, status, map[string]string{"error": msg})
}
