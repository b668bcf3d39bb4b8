// Package handler serves the role-scoped dashboard.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/dashboard/service"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

type Service interface {
	Summary(ctx context.Context) (*service.Summary, error)
}

type Handler struct {
	dashboard Service
	guard     *access.Guard
	logger    *slog.Logger
}

func New(dashboard Service, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{dashboard: dashboard, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.With(h.guard.Require(nil, access.Fallback{})).Get("/api/dashboard", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.dashboard.Summary(ctx)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to build dashboard",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}
