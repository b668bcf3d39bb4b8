// Package service manages organization lifecycle.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"consular/internal/access"
	orgmetrics "consular/internal/organization/metrics"
	"consular/internal/organization/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
	"consular/pkg/requestcontext"
)

type Store interface {
	CreateIfNameAvailable(ctx context.Context, org *models.Organization) error
	FindByID(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error)
	List(ctx context.Context) ([]*models.Organization, error)
	Count(ctx context.Context) (int, error)
	Execute(ctx context.Context, orgID id.OrganizationID, validate func(*models.Organization) error, mutate func(*models.Organization)) (*models.Organization, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	orgs    Store
	tx      tx.Runner
	audit   AuditPublisher
	logger  *slog.Logger
	metrics *orgmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *orgmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(orgs Store, opts ...Option) *Service {
	s := &Service{orgs: orgs, tx: tx.NoopRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new organization. SUPER_ADMIN only.
func (s *Service) Create(ctx context.Context, req *models.CreateOrganizationRequest) (*models.Organization, error) {
	if err := requireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var org *models.Organization
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		o, err := models.NewOrganization(id.OrganizationID(uuid.New()), req.Name, req.ParsedCountries(), requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		if err := s.orgs.CreateIfNameAvailable(txCtx, o); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "organization name must be unique")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create organization")
		}
		org = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCreated()
	s.emit(ctx, audit.EventOrganizationCreated, org)
	s.logger.InfoContext(ctx, "organization created",
		"organization_id", org.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return org, nil
}

// Ensure returns the organization named name, creating it when absent. It
// runs without an actor and is reserved for startup seeding.
func (s *Service) Ensure(ctx context.Context, name string, countries []string) (*models.Organization, error) {
	orgs, err := s.orgs.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list organizations")
	}
	for _, o := range orgs {
		if strings.EqualFold(o.Name, strings.TrimSpace(name)) {
			return o, nil
		}
	}
	req := &models.CreateOrganizationRequest{Name: name, Countries: countries}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o, err := models.NewOrganization(id.OrganizationID(uuid.New()), req.Name, req.ParsedCountries(), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.orgs.CreateIfNameAvailable(ctx, o); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed organization")
	}
	s.metrics.IncCreated()
	return o, nil
}

func (s *Service) Get(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error) {
	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	return org, nil
}

// List returns all organizations, optionally only those serving country.
func (s *Service) List(ctx context.Context, country id.CountryCode) ([]*models.Organization, error) {
	orgs, err := s.orgs.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list organizations")
	}
	if country == "" {
		return orgs, nil
	}
	out := make([]*models.Organization, 0, len(orgs))
	for _, o := range orgs {
		if o.Serves(country) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.orgs.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count organizations")
	}
	return n, nil
}

// RequireActive fails unless orgID names an active organization.
func (s *Service) RequireActive(ctx context.Context, orgID id.OrganizationID) error {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if !org.IsActive() {
		return dErrors.New(dErrors.CodeConflict, "organization is inactive")
	}
	return nil
}

func (s *Service) Deactivate(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error) {
	if err := requireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	org, err := s.orgs.Execute(ctx, orgID,
		func(o *models.Organization) error { return o.CanDeactivate() },
		func(o *models.Organization) { o.ApplyDeactivation(requestcontext.Now(ctx)) },
	)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	s.metrics.IncStatusChange(string(models.StatusInactive))
	s.emit(ctx, audit.EventOrganizationDeactivated, org)
	return org, nil
}

func (s *Service) Reactivate(ctx context.Context, orgID id.OrganizationID) (*models.Organization, error) {
	if err := requireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	org, err := s.orgs.Execute(ctx, orgID,
		func(o *models.Organization) error { return o.CanReactivate() },
		func(o *models.Organization) { o.ApplyReactivation(requestcontext.Now(ctx)) },
	)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	s.metrics.IncStatusChange(string(models.StatusActive))
	s.emit(ctx, audit.EventOrganizationReactivated, org)
	return org, nil
}

// UpdateCountries replaces the served countries. ADMIN of the organization
// or SUPER_ADMIN.
func (s *Service) UpdateCountries(ctx context.Context, orgID id.OrganizationID, req *models.UpdateCountriesRequest) (*models.Organization, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := actor.RequireOrganization(orgID, access.RoleAdmin); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	org, err := s.orgs.Execute(ctx, orgID,
		func(*models.Organization) error { return nil },
		func(o *models.Organization) { o.ApplyCountries(req.ParsedCountries(), requestcontext.Now(ctx)) },
	)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	return org, nil
}

// emit records organization events. These are not compliance events, so a
// failure is logged and the change stands.
func (s *Service) emit(ctx context.Context, action audit.AuditEvent, org *models.Organization) {
	if s.audit == nil {
		return
	}
	e := audit.NewEvent(ctx, action, requestcontext.UserID(ctx))
	e.Subject = org.ID.String()
	if err := s.audit.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to record organization audit event",
			"action", action,
			"organization_id", org.ID,
			"error", err,
		)
	}
}

func requireSuperAdmin(ctx context.Context) error {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return err
	}
	if !actor.IsSuperAdmin() {
		return dErrors.New(dErrors.CodeForbidden, "super administrator role required")
	}
	return nil
}

func wrapOrgErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "organization not found")
	}
	if de, ok := dErrors.As(err); ok {
		if de.Code == dErrors.CodeInvariantViolation {
			return dErrors.New(dErrors.CodeConflict, de.Message)
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "organization store failure")
}
