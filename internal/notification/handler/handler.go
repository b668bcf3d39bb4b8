// Package handler exposes the notification inbox and live stream over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/notification/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
	"consular/pkg/requestcontext"
)

const heartbeatInterval = 25 * time.Second

type Inbox interface {
	List(ctx context.Context, f models.ListFilter) ([]*models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error)
	MarkAllRead(ctx context.Context) (int, error)
	Delete(ctx context.Context, notificationID id.NotificationID) error
}

// Subscriber opens a live feed of a user's notifications.
type Subscriber interface {
	Subscribe(ctx context.Context, userID id.UserID) <-chan *models.Notification
}

// StreamObserver tracks open streams.
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

type Handler struct {
	inbox    Inbox
	live     Subscriber
	observer StreamObserver
	guard    *access.Guard
	logger   *slog.Logger
}

func New(inbox Inbox, live Subscriber, observer StreamObserver, guard *access.Guard, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, live: live, observer: observer, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(h.guard.Require(nil, access.Fallback{}))
		r.Get("/", h.handleList)
		r.Get("/unread-count", h.handleUnreadCount)
		r.Get("/stream", h.handleStream)
		r.Post("/read-all", h.handleMarkAllRead)
		r.Post("/{notificationID}/read", h.handleMarkRead)
		r.Delete("/{notificationID}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := models.ListFilter{UnreadOnly: q.Get("unread") == "true"}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.inbox.List(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.UnreadCount(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to count notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	nid, ok := notificationParam(w, r)
	if !ok {
		return
	}
	n, err := h.inbox.MarkRead(r.Context(), nid)
	if err != nil {
		h.fail(r.Context(), w, "failed to mark notification read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.MarkAllRead(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to mark notifications read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	nid, ok := notificationParam(w, r)
	if !ok {
		return
	}
	if err := h.inbox.Delete(r.Context(), nid); err != nil {
		h.fail(r.Context(), w, "failed to delete notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream serves text/event-stream until the client disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	// the server's write timeout would cut long-lived streams
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(ctx, "notification stream unsupported", "error", err)
		return
	}

	if h.observer != nil {
		h.observer.StreamOpened()
		defer h.observer.StreamClosed()
	}
	feed := h.live.Subscribe(ctx, requestcontext.UserID(ctx))
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case n, ok := <-feed:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func notificationParam(w http.ResponseWriter, r *http.Request) (id.NotificationID, bool) {
	nid, err := id.ParseNotificationID(chi.URLParam(r, "notificationID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid notification id"))
		return id.NotificationID{}, false
	}
	return nid, true
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
