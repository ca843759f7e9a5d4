package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/logger"
)

// Registry is the store surface the handler needs.
type Registry interface {
	CreateTenant(ctx context.Context, tenantID string) (*Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	DeleteTenant(ctx context.Context, tenantID string) error
	ListProducers(ctx context.Context, tenantID string) ([]EventProducer, error)
	CreateProducer(ctx context.Context, tenantID string, np NewProducer) (*EventProducer, error)
	GetProducer(ctx context.Context, tenantID string, producerID int64) (*EventProducer, error)
	DeleteProducer(ctx context.Context, tenantID string, producerID int64) error
}

// Handler serves the tenant registry API on the coordinator.
type Handler struct {
	registry Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler over the given registry.
func NewHandler(registry Registry) *Handler {
	return &Handler{
		registry: registry,
		logger:   slog.Default().With("component", "tenant-handler"),
	}
}

// Version handles GET /, the API version resource.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"v1": "current"})
}

// CreateTenant handles POST /v1/tenants.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.TenantID == "" {
		h.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	t, err := h.registry.CreateTenant(r.Context(), req.TenantID)
	if err != nil {
		h.handleError(w, r, err, "creating tenant failed")
		return
	}
	w.Header().Set("Location", "/v1/tenants/"+t.TenantID)
	h.writeJSON(w, http.StatusCreated, t)
}

// GetTenant handles GET /v1/tenants/{tenantID}.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.registry.GetTenant(r.Context(), r.PathValue("tenantID"))
	if err != nil {
		h.handleError(w, r, err, "reading tenant failed")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// DeleteTenant handles DELETE /v1/tenants/{tenantID}.
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteTenant(r.Context(), r.PathValue("tenantID")); err != nil {
		h.handleError(w, r, err, "deleting tenant failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProducers handles GET /v1/tenants/{tenantID}/producers.
func (h *Handler) ListProducers(w http.ResponseWriter, r *http.Request) {
	producers, err := h.registry.ListProducers(r.Context(), r.PathValue("tenantID"))
	if err != nil {
		h.handleError(w, r, err, "listing producers failed")
		return
	}
	if producers == nil {
		producers = []EventProducer{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"event_producers": producers})
}

// CreateProducer handles POST /v1/tenants/{tenantID}/producers. Durable and
// encrypted default to false when the body omits them.
func (h *Handler) CreateProducer(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	var np NewProducer
	if err := json.NewDecoder(r.Body).Decode(&np); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	np.Name = strings.TrimSpace(np.Name)
	np.Pattern = strings.TrimSpace(np.Pattern)
	if np.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if np.Pattern == "" {
		h.writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}

	p, err := h.registry.CreateProducer(r.Context(), tenantID, np)
	if err != nil {
		h.handleError(w, r, err, "creating producer failed")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s/producers/%d", tenantID, p.ID))
	h.writeJSON(w, http.StatusCreated, p)
}

// GetProducer handles GET /v1/tenants/{tenantID}/producers/{producerID}.
func (h *Handler) GetProducer(w http.ResponseWriter, r *http.Request) {
	producerID, ok := h.producerID(w, r)
	if !ok {
		return
	}
	p, err := h.registry.GetProducer(r.Context(), r.PathValue("tenantID"), producerID)
	if err != nil {
		h.handleError(w, r, err, "reading producer failed")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// DeleteProducer handles DELETE /v1/tenants/{tenantID}/producers/{producerID}.
func (h *Handler) DeleteProducer(w http.ResponseWriter, r *http.Request) {
	producerID, ok := h.producerID(w, r)
	if !ok {
		return
	}
	if err := h.registry.DeleteProducer(r.Context(), r.PathValue("tenantID"), producerID); err != nil {
		h.handleError(w, r, err, "deleting producer failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) producerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("producerID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid producer id")
		return 0, false
	}
	return id, true
}

// handleError maps registry errors to HTTP responses. Client errors keep
// their message; server errors are logged and masked.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, masked string) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error(masked, "error", err)
		h.writeError(w, status, masked)
		return
	}
	h.writeError(w, status, err.Error())
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
