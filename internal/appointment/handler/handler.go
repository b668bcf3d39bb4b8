// Package handler exposes appointment booking over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/appointment/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

type Service interface {
	Book(ctx context.Context, req *models.BookRequest) (*models.Appointment, error)
	Get(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error)
	ListMine(ctx context.Context, f models.ListFilter) ([]*models.Appointment, error)
	ListOrganization(ctx context.Context, orgID id.OrganizationID, f models.ListFilter) ([]*models.Appointment, error)
	Cancel(ctx context.Context, apptID id.AppointmentID, req *models.CancelRequest) (*models.Appointment, error)
	Complete(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error)
}

type Handler struct {
	appts  Service
	guard  *access.Guard
	logger *slog.Logger
}

func New(appts Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{appts: appts, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	anyone := h.guard.Require(nil, access.Fallback{})
	staff := h.guard.Require(access.StaffRoles, access.Fallback{})

	r.With(anyone).Post("/api/appointments", h.handleBook)
	r.With(anyone).Get("/api/appointments", h.handleListMine)
	r.With(anyone).Get("/api/appointments/{appointmentID}", h.handleGet)
	r.With(anyone).Post("/api/appointments/{appointmentID}/cancel", h.handleCancel)
	r.With(staff).Post("/api/appointments/{appointmentID}/complete", h.handleComplete)
	r.With(staff).Get("/api/organizations/{orgID}/appointments", h.handleListOrganization)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.BookRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	a, err := h.appts.Book(ctx, req)
	if err != nil {
		h.fail(ctx, w, "failed to book appointment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.appts.ListMine(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list appointments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

func (h *Handler) handleListOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := id.ParseOrganizationID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organization id"))
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.appts.ListOrganization(ctx, orgID, f)
	if err != nil {
		h.fail(ctx, w, "failed to list appointments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"appointments": list})
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
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, "from must be an RFC 3339 timestamp")
		}
		f.From = from
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withAppointment(w, r, "failed to load appointment", h.appts.Get)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.withAppointment(w, r, "failed to complete appointment", h.appts.Complete)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apptID, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	req := &models.CancelRequest{}
	if r.ContentLength != 0 {
		decoded, ok := httputil.DecodeAndPrepare[models.CancelRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
		if !ok {
			return
		}
		req = decoded
	}
	a, err := h.appts.Cancel(ctx, apptID, req)
	if err != nil {
		h.fail(ctx, w, "failed to cancel appointment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) withAppointment(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, id.AppointmentID) (*models.Appointment, error)) {
	apptID, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	a, err := op(r.Context(), apptID)
	if err != nil {
		h.fail(r.Context(), w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func appointmentParam(w http.ResponseWriter, r *http.Request) (id.AppointmentID, bool) {
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid appointment id"))
		return id.AppointmentID{}, false
	}
	return apptID, true
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
