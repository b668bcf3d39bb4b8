// Package handler exposes document upload, validation and download over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"consular/internal/access"
	"consular/internal/document/models"
	"consular/internal/storage"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	request "consular/pkg/platform/middleware/request"
)

// multipartOverhead leaves room for form fields and part headers.
const multipartOverhead = 64 << 10

type Service interface {
	Upload(ctx context.Context, req *models.UploadRequest, body io.Reader) (*models.Document, error)
	Get(ctx context.Context, docID id.DocumentID) (*models.Document, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.Document, error)
	Validate(ctx context.Context, docID id.DocumentID, req *models.ValidateRequest) (*models.Document, error)
	Delete(ctx context.Context, docID id.DocumentID) error
	Presign(ctx context.Context, docID id.DocumentID) (string, time.Time, error)
	Open(ctx context.Context, token string) (*storage.Grant, *os.File, error)
}

type Handler struct {
	docs      Service
	guard     *access.Guard
	logger    *slog.Logger
	maxUpload int64
}

func New(docs Service, guard *access.Guard, logger *slog.Logger, maxUpload int64) *Handler {
	return &Handler{docs: docs, guard: guard, logger: logger, maxUpload: maxUpload}
}

func (h *Handler) Register(r chi.Router) {
	anyone := h.guard.Require(nil, access.Fallback{})
	staff := h.guard.Require(access.StaffRoles, access.Fallback{})

	r.With(anyone).Post("/api/documents", h.handleUpload)
	r.With(anyone).Get("/api/documents", h.handleList)
	r.With(anyone).Get("/api/documents/{documentID}", h.handleGet)
	r.With(anyone).Delete("/api/documents/{documentID}", h.handleDelete)
	r.With(anyone).Get("/api/documents/{documentID}/url", h.handlePresign)
	r.With(staff).Post("/api/documents/{documentID}/validate", h.handleValidate)

	// The token is the credential; no session is needed.
	r.Get("/api/files/{token}", h.handleDownload)
}

// handleUpload streams a multipart body. Form fields must precede the file part.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected a multipart/form-data body"))
		return
	}

	req := &models.UploadRequest{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "file is required"))
			return
		}
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed multipart body"))
			return
		}
		switch part.FormName() {
		case "type", "request_id":
			value, err := io.ReadAll(io.LimitReader(part, 256))
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed multipart body"))
				return
			}
			if part.FormName() == "type" {
				req.Type = string(value)
			} else {
				req.RequestID = string(value)
			}
		case "file":
			req.FileName = part.FileName()
			req.ContentType = part.Header.Get("Content-Type")
			d, err := h.docs.Upload(ctx, req, part)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					err = dErrors.New(dErrors.CodeValidation, "file is too large")
				}
				h.fail(ctx, w, "failed to upload document", err)
				return
			}
			httputil.WriteJSON(w, http.StatusCreated, d)
			return
		}
	}
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
	if raw := q.Get("request_id"); raw != "" {
		requestID, err := id.ParseRequestID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
			return
		}
		f.RequestID = requestID
	}
	if raw := q.Get("user_id"); raw != "" {
		userID, err := id.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
			return
		}
		f.UserID = userID
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.docs.List(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list documents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	docID, ok := documentParam(w, r)
	if !ok {
		return
	}
	d, err := h.docs.Get(r.Context(), docID)
	if err != nil {
		h.fail(r.Context(), w, "failed to load document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	docID, ok := documentParam(w, r)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), docID); err != nil {
		h.fail(r.Context(), w, "failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePresign(w http.ResponseWriter, r *http.Request) {
	docID, ok := documentParam(w, r)
	if !ok {
		return
	}
	url, expires, err := h.docs.Presign(r.Context(), docID)
	if err != nil {
		h.fail(r.Context(), w, "failed to presign document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"url": url, "expires_at": expires.UTC()})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID, ok := documentParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ValidateRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	d, err := h.docs.Validate(ctx, docID, req)
	if err != nil {
		h.fail(ctx, w, "failed to validate document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	grant, f, err := h.docs.Open(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.fail(ctx, w, "failed to open file", err)
		return
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", grant.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": grant.FileName}))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, grant.FileName, modTime, f)
}

func documentParam(w http.ResponseWriter, r *http.Request) (id.DocumentID, bool) {
	docID, err := id.ParseDocumentID(chi.URLParam(r, "documentID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid document id"))
		return id.DocumentID{}, false
	}
	return docID, true
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
