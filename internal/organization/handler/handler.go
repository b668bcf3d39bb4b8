// Package handler exposes organization administration over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/organization/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

// Service defines the organization operations the handler needs.
type Service interface {
	Create(ctx context.Context, req *models.CreateOrganizationRequest) (*models.Organization, error)
	Get(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error)
	List(ctx context.Context, country id.CountryCode) ([]*models.Organization, error)
	Deactivate(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error)
	Reactivate(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error)
	UpdateCountries(ctx context.Context, orgID id.OrganizationID, req *models.UpdateCountriesRequest) (*models.Organization, error)
}

type Handler struct {
	orgs   Service
	guard  *access.Guard
	logger *slog.Logger
}

func New(orgs Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{orgs: orgs, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	anyone := h.guard.Require(nil, access.Fallback{})
	super := h.guard.Require([]access.Role{access.RoleSuperAdmin}, access.Fallback{})
	admins := h.guard.Require(access.AdminRoles, access.Fallback{})

	r.With(anyone).Get("/api/organizations", h.handleList)
	r.With(anyone).Get("/api/organizations/{orgID}", h.handleGet)
	r.With(super).Post("/api/organizations", h.handleCreate)
	r.With(super).Post("/api/organizations/{orgID}/deactivate", h.handleDeactivate)
	r.With(super).Post("/api/organizations/{orgID}/reactivate", h.handleReactivate)
	r.With(admins).Put("/api/organizations/{orgID}/countries", h.handleUpdateCountries)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var country id.CountryCode
	if raw := r.URL.Query().Get("country"); raw != "" {
		c, err := id.ParseCountryCode(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err)))
			return
		}
		country = c
	}
	orgs, err := h.orgs.List(ctx, country)
	if err != nil {
		h.fail(ctx, w, "failed to list organizations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		h.fail(r.Context(), w, "failed to load organization", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.CreateOrganizationRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	org, err := h.orgs.Create(ctx, req)
	if err != nil {
		h.fail(ctx, w, "failed to create organization", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, org)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.orgs.Deactivate)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.orgs.Reactivate)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, op func(context.Context, id.OrganizationID) (*models.Organization, error)) {
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	org, err := op(r.Context(), orgID)
	if err != nil {
		h.fail(r.Context(), w, "failed to change organization status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (h *Handler) handleUpdateCountries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := orgParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateCountriesRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	org, err := h.orgs.UpdateCountries(ctx, orgID, req)
	if err != nil {
		h.fail(ctx, w, "failed to update countries", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func orgParam(w http.ResponseWriter, r *http.Request) (id.OrganizationID, bool) {
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organization id"))
		return id.OrganizationID{}, false
	}
	return orgID, true
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
