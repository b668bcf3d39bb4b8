// Package service manages citizen document uploads, staff validation and
// presigned downloads.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consular/internal/access"
	docmetrics "consular/internal/document/metrics"
	"consular/internal/document/models"
	notifmodels "consular/internal/notification/models"
	requestmodels "consular/internal/request/models"
	"consular/internal/storage"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
	"consular/pkg/requestcontext"
)

var tracer = otel.Tracer("consular/internal/document")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Store interface {
	Create(ctx context.Context, d *models.Document) error
	FindByID(ctx context.Context, docID id.DocumentID) (*models.Document, error)
	FindMany(ctx context.Context, docIDs []id.DocumentID) ([]*models.Document, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.Document, error)
	CountByStatus(ctx context.Context, status models.Status) (int, error)
	Execute(ctx context.Context, docID id.DocumentID, validate func(*models.Document) error, mutate func(*models.Document)) (*models.Document, error)
}

// Files is the storage provider holding document bytes.
type Files interface {
	Put(ctx context.Context, prefix, fileName string, r io.Reader) (*storage.Object, error)
	Open(ctx context.Context, key string) (*os.File, error)
	Delete(ctx context.Context, key string) error
}

type Signer interface {
	Presign(key, fileName, contentType string) (string, time.Time, error)
	Verify(token string) (*storage.Grant, error)
}

// Requests looks up the requests a document is attached to.
type Requests interface {
	FindByID(ctx context.Context, requestID id.RequestID) (*requestmodels.ServiceRequest, error)
	List(ctx context.Context, f requestmodels.ListFilter) ([]*requestmodels.ServiceRequest, error)
}

type Notifier interface {
	Notify(ctx context.Context, draft notifmodels.Draft)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	docs     Store
	files    Files
	signer   Signer
	requests Requests
	notifier Notifier
	audit    AuditPublisher
	tx       tx.Runner
	logger   *slog.Logger
	metrics  *docmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *docmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(docs Store, files Files, signer Signer, requests Requests, opts ...Option) *Service {
	s := &Service{
		docs:     docs,
		files:    files,
		signer:   signer,
		requests: requests,
		tx:       tx.NoopRunner{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores the file and records a PENDING document for the caller. A
// linked request must belong to the caller.
func (s *Service) Upload(ctx context.Context, req *models.UploadRequest, body io.Reader) (_ *models.Document, err error) {
	ctx, span := tracer.Start(ctx, "document.Upload")
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if requestID := req.ParsedRequestID(); !requestID.IsNil() {
		r, err := s.requests.FindByID(ctx, requestID)
		if err != nil || r.UserID != actor.UserID {
			return nil, dErrors.New(dErrors.CodeValidation, "request_id is invalid")
		}
	}

	obj, err := s.files.Put(ctx, actor.UserID.String(), req.FileName, body)
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store file")
	}
	span.SetAttributes(attribute.Int64("document.size", obj.Size))

	d := models.NewDocument(id.DocumentID(uuid.New()), actor.UserID, req.ParsedRequestID(), req.ParsedType(),
		models.File{Name: req.FileName, ContentType: req.ContentType, Key: obj.Key, Size: obj.Size, Checksum: obj.Checksum},
		requestcontext.Now(ctx))
	if err := s.docs.Create(ctx, d); err != nil {
		s.removeFile(ctx, obj.Key)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record document")
	}

	s.metrics.ObserveUpload(string(d.Type), d.SizeBytes)
	s.logger.InfoContext(ctx, "document uploaded",
		"document_id", d.ID,
		"user_id", d.UserID,
		"type", d.Type,
		"size", d.SizeBytes,
		"request_id", requestcontext.RequestID(ctx),
	)
	return d, nil
}

// Get returns a live document the caller may see.
func (s *Service) Get(ctx context.Context, docID id.DocumentID) (*models.Document, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.docs.FindByID(ctx, docID)
	if err != nil {
		return nil, wrapDocumentErr(err)
	}
	if d.IsDeleted() {
		return nil, errNotFound
	}
	ok, err := s.canView(ctx, actor, d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound
	}
	return d, nil
}

// List returns the caller's documents. Staff may list by owner or by request.
func (s *Service) List(ctx context.Context, f models.ListFilter) ([]*models.Document, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case !actor.Has(access.ProfileReader...):
		f.UserID = actor.UserID
	case !f.RequestID.IsNil():
		r, err := s.requests.FindByID(ctx, f.RequestID)
		if err != nil {
			return nil, errNotFound
		}
		if r.UserID != actor.UserID && !canReviewRequest(actor, r) {
			return nil, errNotFound
		}
	case f.UserID.IsNil():
		f.UserID = actor.UserID
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)

	out, err := s.docs.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list documents")
	}
	return out, nil
}

// CountPending counts live documents awaiting validation.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	n, err := s.docs.CountByStatus(ctx, models.StatusPending)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count documents")
	}
	return n, nil
}

// Validate records a staff decision. Metadata is always replaced with the
// validator, timestamp and note, and the owner gets DOCUMENT_VALIDATED or
// DOCUMENT_REJECTED.
func (s *Service) Validate(ctx context.Context, docID id.DocumentID, req *models.ValidateRequest) (_ *models.Document, err error) {
	ctx, span := tracer.Start(ctx, "document.Validate",
		trace.WithAttributes(attribute.String("document.id", docID.String())))
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Has(access.StaffRoles...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only staff can validate documents")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	current, err := s.docs.FindByID(ctx, docID)
	if err != nil {
		return nil, wrapDocumentErr(err)
	}
	ok, err := s.canReview(ctx, actor, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "document is not attached to a request of your organization")
	}

	var validated *models.Document
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		d, err := s.docs.Execute(txCtx, docID,
			func(d *models.Document) error { return d.CanValidate(req.Target()) },
			func(d *models.Document) {
				d.ApplyValidation(req.Target(), actor.UserID, req.Note, requestcontext.Now(txCtx))
			},
		)
		if err != nil {
			return wrapDocumentErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventDocumentValidated, d.UserID)
		e.Subject = d.ID.String()
		e.Decision = string(d.Status)
		e.Reason = req.Note
		if err := s.emit(txCtx, e); err != nil {
			return err
		}
		validated = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncValidation(string(validated.Status))
	s.logger.InfoContext(ctx, "document validated",
		"document_id", validated.ID,
		"status", validated.Status,
		"validated_by", actor.UserID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notifyOwner(ctx, validated)
	return validated, nil
}

// Delete soft-deletes the caller's document. The file is removed best-effort.
func (s *Service) Delete(ctx context.Context, docID id.DocumentID) error {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return err
	}
	d, err := s.docs.Execute(ctx, docID,
		func(d *models.Document) error {
			if d.IsDeleted() && d.UserID == actor.UserID {
				return errNotFound
			}
			return d.CanDelete(actor.UserID)
		},
		func(d *models.Document) { d.ApplyDeletion(requestcontext.Now(ctx)) },
	)
	if err != nil {
		return wrapDocumentErr(err)
	}
	s.removeFile(ctx, d.StorageKey)
	return nil
}

// Presign returns a short-lived download URL for a document the caller may see.
func (s *Service) Presign(ctx context.Context, docID id.DocumentID) (string, time.Time, error) {
	d, err := s.Get(ctx, docID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.signer.Presign(d.StorageKey, d.FileName, d.ContentType)
}

// Open resolves a presigned token to its file. The caller closes the file.
func (s *Service) Open(ctx context.Context, token string) (*storage.Grant, *os.File, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.files.Open(ctx, grant.Key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "file not found")
		}
		if _, ok := dErrors.As(err); ok {
			return nil, nil, err
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open file")
	}
	s.metrics.IncDownload()
	return grant, f, nil
}

// AttachedTypes checks that every document exists, is live and belongs to
// owner, and returns the types of those still usable.
func (s *Service) AttachedTypes(ctx context.Context, owner id.UserID, docIDs []id.DocumentID) ([]id.DocumentType, error) {
	docs, err := s.docs.FindMany(ctx, docIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load documents")
	}
	byID := make(map[id.DocumentID]*models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]id.DocumentType, 0, len(docIDs))
	for _, docID := range docIDs {
		d, ok := byID[docID]
		if !ok || d.IsDeleted() || d.UserID != owner {
			return nil, dErrors.New(dErrors.CodeValidation, "document "+docID.String()+" is not available")
		}
		if d.Usable() {
			out = append(out, d.Type)
		}
	}
	return out, nil
}

func (s *Service) canView(ctx context.Context, actor access.Actor, d *models.Document) (bool, error) {
	if d.UserID == actor.UserID || actor.IsSuperAdmin() || actor.Has(access.RoleIntelAgent) {
		return true, nil
	}
	if !actor.Has(access.StaffRoles...) {
		return false, nil
	}
	return s.canReview(ctx, actor, d)
}

// canReview reports whether a staff actor manages the organization of a
// request the document is attached to. A document attached to no live
// request belongs to no organization and only SUPER_ADMIN may review it.
func (s *Service) canReview(ctx context.Context, actor access.Actor, d *models.Document) (bool, error) {
	if actor.IsSuperAdmin() {
		return true, nil
	}
	linked, err := s.linkedRequests(ctx, d)
	if err != nil {
		return false, err
	}
	for _, r := range linked {
		if actor.CanManageOrganization(r.OrganizationID, access.StaffRoles...) {
			return true, nil
		}
	}
	return false, nil
}

// linkedRequests returns the request named at upload plus every request
// listing the document among its attachments.
func (s *Service) linkedRequests(ctx context.Context, d *models.Document) ([]*requestmodels.ServiceRequest, error) {
	attached, err := s.requests.List(ctx, requestmodels.ListFilter{DocumentID: d.ID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve document requests")
	}
	if d.RequestID.IsNil() {
		return attached, nil
	}
	r, err := s.requests.FindByID(ctx, d.RequestID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return attached, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve document request")
	}
	return append(attached, r), nil
}

func canReviewRequest(actor access.Actor, r *requestmodels.ServiceRequest) bool {
	return actor.CanManageOrganization(r.OrganizationID, access.StaffRoles...) || actor.Has(access.RoleIntelAgent)
}

func (s *Service) notifyOwner(ctx context.Context, d *models.Document) {
	if s.notifier == nil {
		return
	}
	draft := notifmodels.Draft{
		UserID:  d.UserID,
		Type:    notifmodels.TypeDocumentValidated,
		Title:   "Your document " + d.FileName + " was validated",
		Message: d.Metadata[models.MetaNote],
		Data: map[string]string{
			"document_id": d.ID.String(),
			"status":      string(d.Status),
		},
	}
	if d.Status == models.StatusRejected {
		draft.Type = notifmodels.TypeDocumentRejected
		draft.Title = "Your document " + d.FileName + " was not accepted"
		draft.Channels = []notifmodels.Channel{notifmodels.ChannelEmail}
	}
	s.notifier.Notify(ctx, draft)
}

func (s *Service) removeFile(ctx context.Context, key string) {
	if err := s.files.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to remove stored file",
			"key", key,
			"error", err,
		)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

var errNotFound = dErrors.New(dErrors.CodeNotFound, "document not found")

func wrapDocumentErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return errNotFound
	}
	if _, ok := dErrors.As(err); ok {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "document store failure")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
	}
	span.End()
}
