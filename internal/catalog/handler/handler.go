// Package handler exposes the consular service catalog over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/catalog/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

type Service interface {
	Create(ctx context.Context, orgID id.OrganizationID, req *models.CreateServiceRequest) (*models.Service, error)
	Get(ctx context.Context, serviceID id.ServiceID) (*models.Service, error)
	List(ctx context.Context, orgID id.OrganizationID, category models.Category) ([]*models.Service, error)
	Update(ctx context.Context, serviceID id.ServiceID, req *models.UpdateServiceRequest) (*models.Service, error)
	Deactivate(ctx context.Context, serviceID id.ServiceID) (*models.Service, error)
}

type Handler struct {
	catalog Service
	guard   *access.Guard
	logger  *slog.Logger
}

func New(catalog Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{catalog: catalog, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	anyone := h.guard.Require(nil, access.Fallback{})
	managers := h.guard.Require(access.ManagerRoles, access.Fallback{})

	r.With(anyone).Get("/api/organizations/{orgID}/services", h.handleList)
	r.With(managers).Post("/api/organizations/{orgID}/services", h.handleCreate)
	r.With(anyone).Get("/api/services/{serviceID}", h.handleGet)
	r.With(managers).Patch("/api/services/{serviceID}", h.handleUpdate)
	r.With(managers).Post("/api/services/{serviceID}/deactivate", h.handleDeactivate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organization id"))
		return
	}
	var category models.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		if category, err = models.ParseCategory(raw); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	services, err := h.catalog.List(ctx, orgID, category)
	if err != nil {
		h.fail(ctx, w, "failed to list services", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organization id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CreateServiceRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	svc, err := h.catalog.Create(ctx, orgID, req)
	if err != nil {
		h.fail(ctx, w, "failed to create service", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, svc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceParam(w, r)
	if !ok {
		return
	}
	svc, err := h.catalog.Get(r.Context(), serviceID)
	if err != nil {
		h.fail(r.Context(), w, "failed to load service", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serviceID, ok := serviceParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateServiceRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	svc, err := h.catalog.Update(ctx, serviceID, req)
	if err != nil {
		h.fail(ctx, w, "failed to update service", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceParam(w, r)
	if !ok {
		return
	}
	svc, err := h.catalog.Deactivate(r.Context(), serviceID)
	if err != nil {
		h.fail(r.Context(), w, "failed to deactivate service", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, svc)
}

func serviceParam(w http.ResponseWriter, r *http.Request) (id.ServiceID, bool) {
	serviceID, err := id.ParseServiceID(chi.URLParam(r, "serviceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid service id"))
		return id.ServiceID{}, false
	}
	return serviceID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
