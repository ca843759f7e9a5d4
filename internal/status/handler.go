package status

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/logger"
)

// Handler serves worker status queries on the coordinator API.
type Handler struct {
	registry *Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler over the given registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{
		registry: registry,
		logger:   slog.Default().With("component", "status-handler"),
	}
}

// ListWorkers handles GET /v1/status.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.registry.List(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing workers failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "listing workers failed")
		return
	}
	if statuses == nil {
		statuses = []WorkerStatus{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"workers": statuses})
}

// GetWorker handles GET /v1/workers/{workerID}/status.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("workerID")
	ws, err := h.registry.Get(r.Context(), workerID)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		msg := "worker not found"
		if status >= http.StatusInternalServerError {
			msg = "reading worker failed"
			logger.FromContext(r.Context()).Error("reading worker failed", "worker_id", workerID, "error", err)
		}
		h.writeError(w, status, msg)
		return
	}
	h.writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
