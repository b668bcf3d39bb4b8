// Package handler exposes citizen profiles and their review over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/profile/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

type Service interface {
	Create(ctx context.Context, req *models.ProfileRequest) (*models.Profile, error)
	Mine(ctx context.Context) (*models.Profile, error)
	Get(ctx context.Context, profileID id.ProfileID) (*models.Profile, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.Profile, error)
	Update(ctx context.Context, profileID id.ProfileID, req *models.ProfileRequest) (*models.Profile, error)
	Submit(ctx context.Context, profileID id.ProfileID) (*models.Profile, error)
	StartReview(ctx context.Context, profileID id.ProfileID) (*models.Profile, error)
	Decide(ctx context.Context, profileID id.ProfileID, req *models.DecisionRequest) (*models.Profile, error)
}

type Handler struct {
	profiles Service
	guard    *access.Guard
	logger   *slog.Logger
}

func New(profiles Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{profiles: profiles, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	anyone := h.guard.Require(nil, access.Fallback{})
	readers := h.guard.Require(access.ProfileReader, access.Fallback{})
	staff := h.guard.Require(access.StaffRoles, access.Fallback{})

	r.With(anyone).Post("/api/profiles", h.handleCreate)
	r.With(anyone).Get("/api/profiles/me", h.handleMine)
	r.With(readers).Get("/api/profiles", h.handleList)
	r.With(anyone).Get("/api/profiles/{profileID}", h.handleGet)
	r.With(anyone).Put("/api/profiles/{profileID}", h.handleUpdate)
	r.With(anyone).Post("/api/profiles/{profileID}/submit", h.handleSubmit)
	r.With(staff).Post("/api/profiles/{profileID}/review", h.handleStartReview)
	r.With(staff).Post("/api/profiles/{profileID}/decision", h.handleDecide)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.ProfileRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	p, err := h.profiles.Create(ctx, req)
	if err != nil {
		h.fail(ctx, w, "failed to create profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Mine(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to load profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var f models.ListFilter
	if raw := q.Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err)))
			return
		}
		f.Status = st
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.profiles.List(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list profiles", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"profiles": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withProfile(w, r, "failed to load profile", h.profiles.Get)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID, ok := profileParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ProfileRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	p, err := h.profiles.Update(ctx, profileID, req)
	if err != nil {
		h.fail(ctx, w, "failed to update profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.withProfile(w, r, "failed to submit profile", h.profiles.Submit)
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	h.withProfile(w, r, "failed to start profile review", h.profiles.StartReview)
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID, ok := profileParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.DecisionRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	p, err := h.profiles.Decide(ctx, profileID, req)
	if err != nil {
		h.fail(ctx, w, "failed to record profile decision", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) withProfile(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, id.ProfileID) (*models.Profile, error)) {
	profileID, ok := profileParam(w, r)
	if !ok {
		return
	}
	p, err := op(r.Context(), profileID)
	if err != nil {
		h.fail(r.Context(), w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func profileParam(w http.ResponseWriter, r *http.Request) (id.ProfileID, bool) {
	profileID, err := id.ParseProfileID(chi.URLParam(r, "profileID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid profile id"))
		return id.ProfileID{}, false
	}
	return profileID, true
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
