// Package service implements the service request workflow: drafting,
// submission, staff review, completion and owner deletion.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consular/internal/access"
	apptmodels "consular/internal/appointment/models"
	catalogmodels "consular/internal/catalog/models"
	notifmodels "consular/internal/notification/models"
	profilemodels "consular/internal/profile/models"
	requestmetrics "consular/internal/request/metrics"
	"consular/internal/request/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
	"consular/pkg/requestcontext"
)

var tracer = otel.Tracer("consular/internal/request")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Store interface {
	Create(ctx context.Context, r *models.ServiceRequest) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error)
	HasActiveRegistration(ctx context.Context, profileID id.ProfileID) (bool, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.ServiceRequest, error)
	CountByStatus(ctx context.Context, f models.ListFilter) (models.StatusCounts, error)
	Execute(ctx context.Context, requestID id.RequestID, validate func(*models.ServiceRequest) error, mutate func(*models.ServiceRequest)) (*models.ServiceRequest, error)
	Remove(ctx context.Context, requestID id.RequestID, validate func(*models.ServiceRequest) error) (*models.ServiceRequest, error)
}

// Catalog resolves the consular service a request invokes.
type Catalog interface {
	Get(ctx context.Context, serviceID id.ServiceID) (*catalogmodels.Service, error)
	RequireAvailable(ctx context.Context, serviceID id.ServiceID) (*catalogmodels.Service, error)
}

type Profiles interface {
	OwnedBy(ctx context.Context, userID id.UserID) (*profilemodels.Profile, error)
}

// Documents checks that attached documents belong to owner and reports their
// types. Rejected and deleted documents are not reported.
type Documents interface {
	AttachedTypes(ctx context.Context, owner id.UserID, docIDs []id.DocumentID) ([]id.DocumentType, error)
}

// Appointments resolves an appointment the owner links to a request.
type Appointments interface {
	FindByID(ctx context.Context, apptID id.AppointmentID) (*apptmodels.Appointment, error)
}

// Staff confirms a user is a live staff member of an organization.
type Staff interface {
	RequireStaffMember(ctx context.Context, userID id.UserID, orgID id.OrganizationID, roles ...access.Role) error
}

type Notifier interface {
	Notify(ctx context.Context, draft notifmodels.Draft)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	requests  Store
	catalog   Catalog
	profiles  Profiles
	documents Documents
	appts     Appointments
	staff     Staff
	notifier  Notifier
	audit     AuditPublisher
	tx        tx.Runner
	logger    *slog.Logger
	metrics   *requestmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *requestmetrics.Metrics) Option {
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

func WithAppointments(appts Appointments) Option {
	return func(s *Service) {
		s.appts = appts
	}
}

func WithStaff(staff Staff) Option {
	return func(s *Service) {
		s.staff = staff
	}
}

func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(requests Store, catalog Catalog, profiles Profiles, documents Documents, opts ...Option) *Service {
	s := &Service{
		requests:  requests,
		catalog:   catalog,
		profiles:  profiles,
		documents: documents,
		tx:        tx.NoopRunner{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a DRAFT request for the caller. The caller must hold a
// profile, the service and its organization must be active, and a profile
// may hold only one active registration request.
func (s *Service) Create(ctx context.Context, req *models.CreateRequest) (_ *models.ServiceRequest, err error) {
	ctx, span := tracer.Start(ctx, "request.Create")
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	profile, err := s.profiles.OwnedBy(ctx, actor.UserID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeConflict, "a profile is required before opening a request")
		}
		return nil, err
	}
	svc, err := s.catalog.RequireAvailable(ctx, req.ParsedServiceID())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("service.id", svc.ID.String()),
		attribute.String("service.category", string(svc.Category)),
	)
	if docs := req.ParsedDocuments(); len(docs) > 0 {
		if _, err := s.documents.AttachedTypes(ctx, actor.UserID, docs); err != nil {
			return nil, err
		}
	}
	if svc.Category == catalogmodels.CategoryRegistration {
		active, err := s.requests.HasActiveRegistration(ctx, profile.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check registration requests")
		}
		if active {
			return nil, errActiveRegistration
		}
	}

	now := requestcontext.Now(ctx)
	r := models.NewServiceRequest(id.RequestID(uuid.New()), models.NewReference(now), actor.UserID, profile.ID,
		svc, req.FormData, req.ParsedDocuments(), now)
	if err := s.requests.Create(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) && r.IsRegistration() {
			return nil, errActiveRegistration
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}

	s.metrics.IncCreated(string(r.Category))
	s.logger.InfoContext(ctx, "service request created",
		"request_id", r.ID,
		"reference", r.Reference,
		"service_id", r.ServiceID,
		"user_id", r.UserID,
		"trace_request_id", requestcontext.RequestID(ctx),
	)
	return r, nil
}

var errActiveRegistration = dErrors.New(dErrors.CodeConflict, "profile already has an active registration request")

// Get returns a request to its owner, to staff of its organization and to
// super admins. Anyone else gets not found.
func (s *Service) Get(ctx context.Context, requestID id.RequestID) (*models.ServiceRequest, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	if !canView(actor, r) {
		return nil, errNotFound
	}
	return r, nil
}

// List scopes the filter by role: citizens see their own requests, staff
// their organization's, super admins everything.
func (s *Service) List(ctx context.Context, f models.ListFilter) ([]*models.ServiceRequest, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsSuperAdmin():
	case actor.Has(access.StaffRoles...) && !actor.OrganizationID.IsNil():
		f.OrganizationID = actor.OrganizationID
	default:
		f.UserID = actor.UserID
		f.OrganizationID = id.OrganizationID{}
		f.AssignedAgentID = id.UserID{}
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)

	out, err := s.requests.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return out, nil
}

// CountByStatus aggregates requests matching f. Callers scope f themselves.
func (s *Service) CountByStatus(ctx context.Context, f models.ListFilter) (models.StatusCounts, error) {
	counts, err := s.requests.CountByStatus(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count requests")
	}
	return counts, nil
}

// Update edits a request the owner still holds (DRAFT or ADDITIONAL_INFO_NEEDED).
func (s *Service) Update(ctx context.Context, requestID id.RequestID, req *models.UpdateRequest) (*models.ServiceRequest, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	edit := req.Edit()
	if len(edit.DocumentIDs) > 0 {
		if _, err := s.documents.AttachedTypes(ctx, actor.UserID, edit.DocumentIDs); err != nil {
			return nil, err
		}
	}
	appt, err := s.linkedAppointment(ctx, edit.AppointmentID)
	if err != nil {
		return nil, err
	}
	r, err := s.requests.Execute(ctx, requestID,
		func(r *models.ServiceRequest) error {
			if r.UserID != actor.UserID {
				return errNotFound
			}
			if appt != nil && (appt.UserID != r.UserID || appt.OrganizationID != r.OrganizationID) {
				return errInvalidAppointment
			}
			return r.CanEdit()
		},
		func(r *models.ServiceRequest) {
			r.ApplyEdit(edit, requestcontext.Now(ctx))
		},
	)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	return r, nil
}

// linkedAppointment loads the appointment an edit links. Clearing the link or
// leaving it untouched returns nil. Only SCHEDULED appointments may be linked.
func (s *Service) linkedAppointment(ctx context.Context, apptID *id.AppointmentID) (*apptmodels.Appointment, error) {
	if apptID == nil || apptID.IsNil() {
		return nil, nil
	}
	if s.appts == nil {
		return nil, errInvalidAppointment
	}
	a, err := s.appts.FindByID(ctx, *apptID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, errInvalidAppointment
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load appointment")
	case a.Status != apptmodels.StatusScheduled:
		return nil, errInvalidAppointment
	}
	return a, nil
}

// Submit moves the owner's DRAFT to SUBMITTED and stamps submittedAt. Every
// required document type and form field of the service must be present.
func (s *Service) Submit(ctx context.Context, requestID id.RequestID) (_ *models.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "request.Submit", requestID)
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "submit", requestID, "",
		func(r *models.ServiceRequest) error {
			if r.UserID != actor.UserID {
				return errNotFound
			}
			missing, err := s.completeness(ctx, r)
			if err != nil {
				return err
			}
			return r.CanSubmit(missing)
		},
		func(r *models.ServiceRequest, now time.Time) { r.ApplySubmit(now) },
	)
}

// Resubmit closes the ADDITIONAL_INFO_NEEDED loop and re-stamps submittedAt.
func (s *Service) Resubmit(ctx context.Context, requestID id.RequestID) (_ *models.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "request.Resubmit", requestID)
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "resubmit", requestID, "",
		func(r *models.ServiceRequest) error {
			if r.UserID != actor.UserID {
				return errNotFound
			}
			missing, err := s.completeness(ctx, r)
			if err != nil {
				return err
			}
			return r.CanResubmit(missing)
		},
		func(r *models.ServiceRequest, now time.Time) { r.ApplyResubmit(now) },
	)
}

// StartReview takes a SUBMITTED request into IN_REVIEW. An unassigned request
// is assigned to the reviewer.
func (s *Service) StartReview(ctx context.Context, requestID id.RequestID) (_ *models.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "request.StartReview", requestID)
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "start_review", requestID, "",
		func(r *models.ServiceRequest) error {
			if err := actor.RequireOrganization(r.OrganizationID, access.StaffRoles...); err != nil {
				return err
			}
			return r.CanStartReview()
		},
		func(r *models.ServiceRequest, now time.Time) { r.ApplyStartReview(actor.UserID, now) },
	)
}

// Review records a staff decision on a SUBMITTED or IN_REVIEW request.
func (s *Service) Review(ctx context.Context, requestID id.RequestID, req *models.ReviewRequest) (_ *models.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "request.Review", requestID)
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	outcome := req.Outcome()
	span.SetAttributes(attribute.String("request.outcome", string(outcome)))
	return s.transition(ctx, "review", requestID, audit.EventRequestReviewed,
		func(r *models.ServiceRequest) error {
			if err := actor.RequireOrganization(r.OrganizationID, access.StaffRoles...); err != nil {
				return err
			}
			return r.CanReview(outcome)
		},
		func(r *models.ServiceRequest, now time.Time) { r.ApplyReview(outcome, actor.UserID, req.Note, now) },
	)
}

// Complete closes an APPROVED request.
func (s *Service) Complete(ctx context.Context, requestID id.RequestID) (_ *models.ServiceRequest, err error) {
	ctx, span := startSpan(ctx, "request.Complete", requestID)
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "complete", requestID, audit.EventRequestCompleted,
		func(r *models.ServiceRequest) error {
			if err := actor.RequireOrganization(r.OrganizationID, access.StaffRoles...); err != nil {
				return err
			}
			return r.CanComplete()
		},
		func(r *models.ServiceRequest, now time.Time) { r.ApplyComplete(now) },
	)
}

// Assign hands an open request to an AGENT of its organization. Only
// managers and admins of that organization may assign.
func (s *Service) Assign(ctx context.Context, requestID id.RequestID, req *models.AssignRequest) (*models.ServiceRequest, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	current, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	if err := actor.RequireOrganization(current.OrganizationID, access.ManagerRoles...); err != nil {
		return nil, err
	}
	if s.staff != nil {
		if err := s.staff.RequireStaffMember(ctx, req.Agent(), current.OrganizationID, access.RoleAgent); err != nil {
			return nil, err
		}
	}

	var assigned *models.ServiceRequest
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.requests.Execute(txCtx, requestID,
			func(r *models.ServiceRequest) error { return r.CanAssign() },
			func(r *models.ServiceRequest) { r.ApplyAssign(req.Agent(), requestcontext.Now(txCtx)) },
		)
		if err != nil {
			return wrapRequestErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventAgentAssigned, req.Agent())
		e.Subject = r.Reference
		if err := s.emit(txCtx, e); err != nil {
			return err
		}
		assigned = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, notifmodels.Draft{
			UserID:  req.Agent(),
			Type:    notifmodels.TypeAgentAssigned,
			Title:   "Request " + assigned.Reference + " was assigned to you",
			Message: "A " + string(assigned.Category) + " request needs your review.",
			Data:    requestData(assigned),
		})
	}
	return assigned, nil
}

// Delete removes a DRAFT request. Only its owner may delete it.
func (s *Service) Delete(ctx context.Context, requestID id.RequestID) error {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return err
	}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.requests.Remove(txCtx, requestID, func(r *models.ServiceRequest) error {
			return r.CanDelete(actor.UserID)
		})
		if err != nil {
			return wrapRequestErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventRequestDeleted, r.UserID)
		e.Subject = r.Reference
		return s.emit(txCtx, e)
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncRejected("delete")
		}
		return err
	}
	s.metrics.IncDeleted()
	return nil
}

// transition runs one status change: check and apply under the store lock,
// an optional audit event in the same transaction, then exactly one owner
// notification.
func (s *Service) transition(ctx context.Context, op string, requestID id.RequestID, event audit.AuditEvent, check func(*models.ServiceRequest) error, apply func(*models.ServiceRequest, time.Time)) (*models.ServiceRequest, error) {
	var (
		from    models.Status
		updated *models.ServiceRequest
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		r, err := s.requests.Execute(txCtx, requestID,
			func(r *models.ServiceRequest) error {
				from = r.Status
				return check(r)
			},
			func(r *models.ServiceRequest) { apply(r, requestcontext.Now(txCtx)) },
		)
		if err != nil {
			return wrapRequestErr(err)
		}
		if event != "" {
			e := audit.NewEvent(txCtx, event, r.UserID)
			e.Subject = r.Reference
			e.Decision = string(r.Status)
			e.Reason = r.ReviewNote
			if err := s.emit(txCtx, e); err != nil {
				return err
			}
		}
		updated = r
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncRejected(op)
		}
		return nil, err
	}

	s.metrics.IncTransition(string(from), string(updated.Status))
	s.logger.InfoContext(ctx, "service request status changed",
		"request_id", updated.ID,
		"reference", updated.Reference,
		"from", from,
		"to", updated.Status,
		"trace_request_id", requestcontext.RequestID(ctx),
	)
	s.notifyOwner(ctx, updated)
	return updated, nil
}

// completeness lists required document types of the request's service that
// are not attached. Missing form fields are reported as a validation error.
func (s *Service) completeness(ctx context.Context, r *models.ServiceRequest) ([]id.DocumentType, error) {
	svc, err := s.catalog.Get(ctx, r.ServiceID)
	if err != nil {
		return nil, err
	}
	if fields := r.MissingFields(svc.RequiredFields()); len(fields) > 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "missing required field: "+fields[0])
	}
	var attached []id.DocumentType
	if len(r.DocumentIDs) > 0 {
		attached, err = s.documents.AttachedTypes(ctx, r.UserID, r.DocumentIDs)
		if err != nil {
			return nil, err
		}
	}
	return svc.MissingDocuments(attached), nil
}

func (s *Service) notifyOwner(ctx context.Context, r *models.ServiceRequest) {
	if s.notifier == nil {
		return
	}
	draft := notifmodels.Draft{
		UserID:  r.UserID,
		Type:    notifmodels.TypeRequestStatusChanged,
		Title:   "Request " + r.Reference + " is now " + string(r.Status),
		Message: r.ReviewNote,
		Data:    requestData(r),
	}
	switch r.Status {
	case models.StatusApproved, models.StatusRejected, models.StatusAdditionalInfoNeeded, models.StatusCompleted:
		draft.Channels = []notifmodels.Channel{notifmodels.ChannelEmail}
	}
	s.notifier.Notify(ctx, draft)
}

func requestData(r *models.ServiceRequest) map[string]string {
	return map[string]string{
		"request_id": r.ID.String(),
		"reference":  r.Reference,
		"status":     string(r.Status),
	}
}

func canView(actor access.Actor, r *models.ServiceRequest) bool {
	return r.UserID == actor.UserID || actor.CanManageOrganization(r.OrganizationID, access.StaffRoles...)
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

var errNotFound = dErrors.New(dErrors.CodeNotFound, "request not found")
var errInvalidAppointment = dErrors.New(dErrors.CodeValidation, "appointment_id is invalid")

func wrapRequestErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return errNotFound
	}
	if _, ok := dErrors.As(err); ok {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "request store failure")
}

func startSpan(ctx context.Context, name string, requestID id.RequestID) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("request.id", requestID.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
	}
	span.End()
}
