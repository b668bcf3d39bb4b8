// Package handler exposes the service request workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/request/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

type Service interface {
	Create(ctx context.Context, req *models.CreateRequest) (*models.ServiceRequest, error)
	Get(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.ServiceRequest, error)
	Update(ctx context.Context, requestID id.RequestID, req *models.UpdateRequest) (*models.ServiceRequest, error)
	Submit(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error)
	Resubmit(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error)
	StartReview(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error)
	Review(ctx context.Context, requestID id.RequestID, req *models.ReviewRequest) (*models.ServiceRequest, error)
	Complete(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error)
	Assign(ctx context.Context, requestID id.RequestID, req *models.AssignRequest) (*models.ServiceRequest, error)
	Delete(ctx context.Context, requestID id.RequestID) error
}

type Handler struct {
	requests Service
	guard    *access.Guard
	logger   *slog.Logger
}

func New(requests Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{requests: requests, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	anyone := h.guard.Require(nil, access.Fallback{})
	staff := h.guard.Require(access.StaffRoles, access.Fallback{})
	managers := h.guard.Require(access.ManagerRoles, access.Fallback{})

	r.With(anyone).Post("/api/requests", h.handleCreate)
	r.With(anyone).Get("/api/requests", h.handleList)
	r.With(anyone).Get("/api/requests/{requestID}", h.handleGet)
	r.With(anyone).Put("/api/requests/{requestID}", h.handleUpdate)
	r.With(anyone).Delete("/api/requests/{requestID}", h.handleDelete)
	r.With(anyone).Post("/api/requests/{requestID}/submit", h.handleSubmit)
	r.With(anyone).Post("/api/requests/{requestID}/resubmit", h.handleResubmit)
	r.With(staff).Post("/api/requests/{requestID}/review/start", h.handleStartReview)
	r.With(staff).Post("/api/requests/{requestID}/review", h.handleReview)
	r.With(staff).Post("/api/requests/{requestID}/complete", h.handleComplete)
	r.With(managers).Post("/api/requests/{requestID}/assign", h.handleAssign)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.CreateRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	sr, err := h.requests.Create(ctx, req)
	if err != nil {
		h.fail(ctx, w, "failed to create request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sr)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.requests.List(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func parseFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	var f models.ListFilter
	if raw := q.Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err))
		}
		f.Status = st
	}
	if raw := q.Get("service_id"); raw != "" {
		serviceID, err := id.ParseServiceID(raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, "invalid service id")
		}
		f.ServiceID = serviceID
	}
	if raw := q.Get("assigned_agent_id"); raw != "" {
		agentID, err := id.ParseUserID(raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, "invalid agent id")
		}
		f.AssignedAgentID = agentID
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, "failed to load request", h.requests.Get)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := requestParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.UpdateRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	sr, err := h.requests.Update(ctx, requestID, req)
	if err != nil {
		h.fail(ctx, w, "failed to update request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sr)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestParam(w, r)
	if !ok {
		return
	}
	if err := h.requests.Delete(r.Context(), requestID); err != nil {
		h.fail(r.Context(), w, "failed to delete request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, "failed to submit request", h.requests.Submit)
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, "failed to resubmit request", h.requests.Resubmit)
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, "failed to start request review", h.requests.StartReview)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, "failed to complete request", h.requests.Complete)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := requestParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ReviewRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	sr, err := h.requests.Review(ctx, requestID, req)
	if err != nil {
		h.fail(ctx, w, "failed to review request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sr)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, ok := requestParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.AssignRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	sr, err := h.requests.Assign(ctx, requestID, req)
	if err != nil {
		h.fail(ctx, w, "failed to assign request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sr)
}

func (h *Handler) withRequest(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, id.RequestID) (*models.ServiceRequest, error)) {
	requestID, ok := requestParam(w, r)
	if !ok {
		return
	}
	sr, err := op(r.Context(), requestID)
	if err != nil {
		h.fail(r.Context(), w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sr)
}

func requestParam(w http.ResponseWriter, r *http.Request) (id.RequestID, bool) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
		return id.RequestID{}, false
	}
	return requestID, true
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
