package retrieval

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "INVALID_BODY", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(w, "MISSING_FIELDS", "query is required", http.StatusBadRequest)
		return
	}

	results, err := h.service.Search(r.Context(), req.Query, &SearchOptions{TopK: req.TopK})
	if err != nil {
		slog.ErrorContext(r.Context(), "query failed", "error", err)
		h.writeError(w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": results})
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
