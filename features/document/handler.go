package document

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"documind/backend/internal/queue"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
	MimeType  string `json:"mime_type"`
	OwnerID   string `json:"owner_id"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "INVALID_BODY", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.SourceURL == "" {
		h.writeError(w, "MISSING_FIELDS", "name and source_url are required", http.StatusBadRequest)
		return
	}

	doc := &Document{
		Name:      req.Name,
		SourceURL: req.SourceURL,
		MimeType:  req.MimeType,
		OwnerID:   req.OwnerID,
	}
	jobID, err := h.service.Register(r.Context(), doc)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to register document", "error", err)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]interface{}{"document": doc, "job_id": jobID},
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list documents", "error", err)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": docs})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.service.Get(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, "NOT_FOUND", "Document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to get document", "error", err, "document_id", id)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": doc})
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jobID, err := h.service.Retry(r.Context(), id)
	if errors.Is(err, ErrNotRetryable) {
		h.writeError(w, "NOT_RETRYABLE", "Document is not in a failed state", http.StatusConflict)
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, "NOT_FOUND", "Document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to retry document", "error", err, "document_id", id)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"job_id": jobID},
	})
}

// ProcessAll kicks off a batch job over every pending or failed document.
func (h *Handler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.service.ProcessAll(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to enqueue batch job", "error", err)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"job_id": jobID},
	})
}

type ingestRequest struct {
	OwnerID        string `json:"owner_id"`
	FileName       string `json:"file_name"`
	Content        string `json:"content"`
	ExternalFileID string `json:"external_file_id"`
	MimeType       string `json:"mime_type"`
	Origin         string `json:"origin"`
	SourceID       string `json:"source_id"`
}

// Ingest accepts pre-extracted content and enqueues it as an inline job.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "INVALID_BODY", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.FileName == "" || req.Content == "" {
		h.writeError(w, "MISSING_FIELDS", "owner_id, file_name and content are required", http.StatusBadRequest)
		return
	}

	jobID, err := h.service.IngestInline(r.Context(), queue.InlineContent{
		OwnerID:        req.OwnerID,
		FileName:       req.FileName,
		Content:        req.Content,
		ExternalFileID: req.ExternalFileID,
		MimeType:       req.MimeType,
		Origin:         req.Origin,
		StableSourceID: req.SourceID,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to enqueue inline content", "error", err)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"job_id": jobID},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
