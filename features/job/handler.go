package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// QueueAdmin is the administrative slice of the ingestion queue consumed by
// this handler.
type QueueAdmin interface {
	Status(ctx context.Context) (Counts, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	RemoveJob(ctx context.Context, id string) error
}

type Handler struct {
	queue QueueAdmin
}

func NewHandler(queue QueueAdmin) *Handler {
	return &Handler{queue: queue}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Status(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to get queue status", "error", err)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": counts})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := h.queue.GetJob(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, "NOT_FOUND", "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to get job", "error", err, "job_id", id)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": j})
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.queue.RemoveJob(r.Context(), id); err != nil {
		slog.ErrorContext(r.Context(), "failed to remove job", "error", err, "job_id", id)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
