// Package service books and manages consular appointments.
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
	apptmetrics "consular/internal/appointment/metrics"
	"consular/internal/appointment/models"
	notifmodels "consular/internal/notification/models"
	requestmodels "consular/internal/request/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
	"consular/pkg/requestcontext"
)

var tracer = otel.Tracer("consular/internal/appointment")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Store interface {
	Create(ctx context.Context, a *models.Appointment) error
	FindByID(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.Appointment, error)
	Execute(ctx context.Context, apptID id.AppointmentID, validate func(*models.Appointment) error, mutate func(*models.Appointment)) (*models.Appointment, error)
}

type Organizations interface {
	RequireActive(ctx context.Context, orgID id.OrganizationID) error
}

// Requests looks up the request an appointment is booked for.
type Requests interface {
	FindByID(ctx context.Context, requestID id.RequestID) (*requestmodels.ServiceRequest, error)
}

type Notifier interface {
	Notify(ctx context.Context, draft notifmodels.Draft)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	appts    Store
	orgs     Organizations
	requests Requests
	notifier Notifier
	audit    AuditPublisher
	tx       tx.Runner
	logger   *slog.Logger
	metrics  *apptmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *apptmetrics.Metrics) Option {
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

func New(appts Store, orgs Organizations, requests Requests, opts ...Option) *Service {
	s := &Service{
		appts:    appts,
		orgs:     orgs,
		requests: requests,
		tx:       tx.NoopRunner{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book reserves a future slot at an active organization for the caller.
func (s *Service) Book(ctx context.Context, req *models.BookRequest) (_ *models.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Book")
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !req.ParsedStart().After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "starts_at must be in the future")
	}
	span.SetAttributes(attribute.String("organization.id", req.ParsedOrganization().String()))
	if err := s.orgs.RequireActive(ctx, req.ParsedOrganization()); err != nil {
		return nil, err
	}
	if requestID := req.ParsedRequest(); !requestID.IsNil() {
		r, err := s.requests.FindByID(ctx, requestID)
		if err != nil || r.UserID != actor.UserID || r.OrganizationID != req.ParsedOrganization() {
			return nil, dErrors.New(dErrors.CodeValidation, "request_id is invalid")
		}
	}

	a := models.NewAppointment(id.AppointmentID(uuid.New()), actor.UserID, req.ParsedOrganization(),
		req.ParsedRequest(), req.ParsedStart(), req.Duration(), now)
	if err := s.appts.Create(ctx, a); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.metrics.IncSlotConflict()
			return nil, errSlotTaken
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to book appointment")
	}

	s.metrics.IncBooked()
	s.logger.InfoContext(ctx, "appointment booked",
		"appointment_id", a.ID,
		"user_id", a.UserID,
		"organization_id", a.OrganizationID,
		"starts_at", a.StartsAt,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notify(ctx, a, notifmodels.TypeAppointmentBooked, "Your appointment is confirmed")
	return a, nil
}

// Get returns an appointment visible to the caller: the owner, or staff of its
// organization.
func (s *Service) Get(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.appts.FindByID(ctx, apptID)
	if err != nil {
		return nil, wrapAppointmentErr(err)
	}
	if a.UserID != actor.UserID && !actor.CanManageOrganization(a.OrganizationID, access.StaffRoles...) {
		return nil, errNotFound
	}
	return a, nil
}

// ListMine returns the caller's own appointments.
func (s *Service) ListMine(ctx context.Context, f models.ListFilter) ([]*models.Appointment, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	f.UserID = actor.UserID
	f.OrganizationID = id.OrganizationID{}
	return s.list(ctx, f)
}

// ListOrganization returns an organization's calendar for its staff.
func (s *Service) ListOrganization(ctx context.Context, orgID id.OrganizationID, f models.ListFilter) ([]*models.Appointment, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := actor.RequireOrganization(orgID, access.StaffRoles...); err != nil {
		return nil, err
	}
	f.OrganizationID = orgID
	f.UserID = id.UserID{}
	return s.list(ctx, f)
}

func (s *Service) list(ctx context.Context, f models.ListFilter) ([]*models.Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)
	out, err := s.appts.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list appointments")
	}
	return out, nil
}

// Cancel releases the slot. The owner or staff of the organization may cancel.
func (s *Service) Cancel(ctx context.Context, apptID id.AppointmentID, req *models.CancelRequest) (_ *models.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Cancel",
		trace.WithAttributes(attribute.String("appointment.id", apptID.String())))
	defer func() { endSpan(span, err) }()

	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	by := "owner"
	var cancelled *models.Appointment
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		a, err := s.appts.Execute(txCtx, apptID,
			func(a *models.Appointment) error {
				if a.UserID != actor.UserID {
					if !actor.CanManageOrganization(a.OrganizationID, access.StaffRoles...) {
						return errNotFound
					}
					by = "staff"
				}
				return a.CanCancel()
			},
			func(a *models.Appointment) { a.ApplyCancel(req.Reason, requestcontext.Now(txCtx)) },
		)
		if err != nil {
			return wrapAppointmentErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventAppointmentCancelled, a.UserID)
		e.Subject = a.ID.String()
		e.Decision = by
		e.Reason = req.Reason
		if err := s.emit(txCtx, e); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCancelled(by)
	s.logger.InfoContext(ctx, "appointment cancelled",
		"appointment_id", cancelled.ID,
		"cancelled_by", actor.UserID,
		"by", by,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notify(ctx, cancelled, notifmodels.TypeAppointmentCancelled, "Your appointment was cancelled")
	return cancelled, nil
}

// Complete marks a started appointment as held. Staff only.
func (s *Service) Complete(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Has(access.StaffRoles...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only staff can complete appointments")
	}

	var completed *models.Appointment
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		a, err := s.appts.Execute(txCtx, apptID,
			func(a *models.Appointment) error {
				if err := actor.RequireOrganization(a.OrganizationID, access.StaffRoles...); err != nil {
					return err
				}
				return a.CanComplete(now)
			},
			func(a *models.Appointment) { a.ApplyComplete(now) },
		)
		if err != nil {
			return wrapAppointmentErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventAppointmentCompleted, a.UserID)
		e.Subject = a.ID.String()
		if err := s.emit(txCtx, e); err != nil {
			return err
		}
		completed = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncCompleted()
	return completed, nil
}

// Upcoming returns the caller's scheduled appointments from now on.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]*models.Appointment, error) {
	return s.ListMine(ctx, models.ListFilter{
		Status: models.StatusScheduled,
		From:   requestcontext.Now(ctx),
		Limit:  limit,
	})
}

func (s *Service) notify(ctx context.Context, a *models.Appointment, typ notifmodels.Type, title string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notifmodels.Draft{
		UserID:   a.UserID,
		Type:     typ,
		Title:    title,
		Message:  a.StartsAt.Format(time.RFC1123),
		Channels: []notifmodels.Channel{notifmodels.ChannelEmail},
		Data: map[string]string{
			"appointment_id":  a.ID.String(),
			"organization_id": a.OrganizationID.String(),
			"starts_at":       a.StartsAt.Format(time.RFC3339),
			"status":          string(a.Status),
		},
	})
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

var (
	errNotFound  = dErrors.New(dErrors.CodeNotFound, "appointment not found")
	errSlotTaken = dErrors.New(dErrors.CodeConflict, "slot is already booked")
)

func wrapAppointmentErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return errNotFound
	}
	if _, ok := dErrors.As(err); ok {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "appointment store failure")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
	}
	span.End()
}
