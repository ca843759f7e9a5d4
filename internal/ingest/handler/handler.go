package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/docsink/docsink/internal/ingest"
	"github.com/docsink/docsink/internal/ingest/validator"
	"github.com/docsink/docsink/internal/sink"
	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/logger"
)

// Router decides whether a document belongs to this sink and, if so,
// enqueues it durably.
type Router interface {
	Route(ctx context.Context, doc []byte) (*sink.Receipt, bool, error)
}

type Handler struct {
	router       Router
	maxBodyBytes int64
	logger       *slog.Logger
}

func New(router Router, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		router:       router,
		maxBodyBytes: maxBodyBytes,
		logger:       slog.Default().With("component", "ingest-handler"),
	}
}

// Ingest accepts one document per request. The body is the document itself;
// a 202 means the pipeline owns it from here, whether queued or skipped.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("document exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "reading request body failed")
		return
	}

	if err := validator.ValidateDocument(body); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, routed, err := h.router.Route(ctx, body)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingest failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingest failed")
		return
	}
	if !routed {
		h.writeJSON(w, http.StatusAccepted, ingest.Response{Status: ingest.StatusSkipped})
		return
	}
	log.Info("document queued",
		"action_id", receipt.ActionID,
		"index", receipt.Index,
		"kind", receipt.Kind,
	)
	h.writeJSON(w, http.StatusAccepted, ingest.Response{
		ActionID: receipt.ActionID,
		Index:    receipt.Index,
		Kind:     receipt.Kind,
		Status:   ingest.StatusQueued,
	})
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
