// Package handler exposes account administration over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/user/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
	"consular/pkg/requestcontext"
)

// Service defines the account operations the handler needs.
type Service interface {
	Get(ctx context.Context, userID id.UserID) (*models.User, error)
	ListByOrganization(ctx context.Context, orgID id.OrganizationID, limit, offset int) ([]*models.User, error)
	AssignRoles(ctx context.Context, userID id.UserID, req *models.AssignRolesRequest) (*models.User, error)
	SoftDelete(ctx context.Context, userID id.UserID) error
}

type Handler struct {
	users  Service
	guard  *access.Guard
	logger *slog.Logger
}

func New(users Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{users: users, guard: guard, logger: logger}
}

// Register mounts the user routes. Every route requires a session; staff
// routes are additionally gated by role.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/users", func(r chi.Router) {
		r.With(h.guard.Require(nil, access.Fallback{})).Get("/me", h.handleMe)
		r.With(h.guard.Require(access.ManagerRoles, access.Fallback{})).Get("/{userID}", h.handleGet)
		r.With(h.guard.Require(access.AdminRoles, access.Fallback{})).Put("/{userID}/roles", h.handleAssignRoles)
		r.With(h.guard.Require(access.AdminRoles, access.Fallback{})).Delete("/{userID}", h.handleDelete)
	})
	r.With(h.guard.Require(access.ManagerRoles, access.Fallback{})).
		Get("/api/organizations/{orgID}/users", h.handleListByOrganization)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.users.Get(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to load current user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	user, err := h.users.Get(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "failed to load user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleListByOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organization id"))
		return
	}
	limit, offset := Page(r)
	users, err := h.users.ListByOrganization(ctx, orgID, limit, offset)
	if err != nil {
		h.fail(ctx, w, "failed to list users", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.AssignRolesRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	user, err := h.users.AssignRoles(ctx, userID, req)
	if err != nil {
		h.fail(ctx, w, "failed to assign roles", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	if err := h.users.SoftDelete(ctx, userID); err != nil {
		h.fail(ctx, w, "failed to delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

// Page reads limit and offset query parameters. Invalid values read as zero
// and are clamped by the services.
func Page(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
