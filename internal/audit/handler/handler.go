// Package handler exposes the audit trail to administrators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Service interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
	ListByUser(ctx context.Context, userID id.UserID, limit int) ([]audit.Event, error)
}

type Handler struct {
	events Service
	guard  *access.Guard
	logger *slog.Logger
}

func New(events Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{events: events, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.With(h.guard.Require(access.AdminRoles, access.Fallback{})).Get("/api/audit", h.handleList)
}

// handleList returns the newest events, optionally for one user and category.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	var (
		events []audit.Event
		err    error
	)
	if raw := q.Get("user_id"); raw != "" {
		userID, perr := id.ParseUserID(raw)
		if perr != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
			return
		}
		events, err = h.events.ListByUser(ctx, userID, limit)
	} else {
		events, err = h.events.ListRecent(ctx, limit)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}

	if category := audit.EventCategory(q.Get("category")); category != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
