// Package service manages the consular service catalog.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"consular/internal/access"
	catmetrics "consular/internal/catalog/metrics"
	"consular/internal/catalog/models"
	"consular/internal/catalog/store"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/sentinel"
	"consular/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, svc *models.Service) error
	FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error)
	List(ctx context.Context, f store.Filter) ([]*models.Service, error)
	Execute(ctx context.Context, serviceID id.ServiceID, validate func(*models.Service) error, mutate func(*models.Service)) (*models.Service, error)
}

// Organizations is the slice of the organization service the catalog needs.
type Organizations interface {
	RequireActive(ctx context.Context, orgID id.OrganizationID) error
}

type Service struct {
	services Store
	orgs     Organizations
	cache    *Cache
	logger   *slog.Logger
	metrics  *catmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *catmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(c *Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func New(services Store, orgs Organizations, opts ...Option) *Service {
	s := &Service{services: services, orgs: orgs, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a service to orgID's catalog. MANAGER or ADMIN of the
// organization, or SUPER_ADMIN.
func (s *Service) Create(ctx context.Context, orgID id.OrganizationID, req *models.CreateServiceRequest) (*models.Service, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := actor.RequireOrganization(orgID, access.RoleManager, access.RoleAdmin); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.orgs.RequireActive(ctx, orgID); err != nil {
		return nil, err
	}
	return s.create(ctx, orgID, req)
}

func (s *Service) create(ctx context.Context, orgID id.OrganizationID, req *models.CreateServiceRequest) (*models.Service, error) {
	now := requestcontext.Now(ctx)
	svc := &models.Service{
		ID:                id.ServiceID(uuid.New()),
		OrganizationID:    orgID,
		Name:              req.Name,
		Description:       req.Description,
		Category:          req.ParsedCategory(),
		Steps:             req.Steps,
		RequiredDocuments: req.ParsedDocuments(),
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if svc.Steps == nil {
		svc.Steps = []models.Step{}
	}
	if err := s.services.Create(ctx, svc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create service")
	}
	s.metrics.IncCreated(string(svc.Category))
	s.logger.InfoContext(ctx, "consular service created",
		"service_id", svc.ID,
		"organization_id", orgID,
		"category", svc.Category,
		"request_id", requestcontext.RequestID(ctx),
	)
	return svc, nil
}

// Get returns a service by id, served from the LRU cache when possible. The
// returned value is shared with the cache and must not be modified.
func (s *Service) Get(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	if svc, ok := s.cache.Get(serviceID); ok {
		return svc, nil
	}
	svc, err := s.services.FindByID(ctx, serviceID)
	if err != nil {
		return nil, wrapServiceErr(err)
	}
	s.cache.Set(svc)
	return svc, nil
}

// RequireAvailable returns the service when both it and its organization
// accept new requests.
func (s *Service) RequireAvailable(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	svc, err := s.Get(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, dErrors.New(dErrors.CodeConflict, "service is not available")
	}
	if err := s.orgs.RequireActive(ctx, svc.OrganizationID); err != nil {
		return nil, err
	}
	return svc, nil
}

// List returns an organization's services. Citizens only see active ones.
func (s *Service) List(ctx context.Context, orgID id.OrganizationID, category models.Category) ([]*models.Service, error) {
	f := store.Filter{OrganizationID: orgID, Category: category, ActiveOnly: true}
	if actor, err := access.ActorFrom(ctx); err == nil && actor.CanManageOrganization(orgID, access.StaffRoles...) {
		f.ActiveOnly = false
	}
	out, err := s.services.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list services")
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, serviceID id.ServiceID, req *models.UpdateServiceRequest) (*models.Service, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, serviceID,
		func(*models.Service) error { return nil },
		func(svc *models.Service) {
			req.Apply(svc)
			svc.UpdatedAt = requestcontext.Now(ctx)
		})
}

func (s *Service) Deactivate(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	return s.mutate(ctx, serviceID,
		func(svc *models.Service) error { return svc.CanDeactivate() },
		func(svc *models.Service) { svc.ApplyDeactivation(requestcontext.Now(ctx)) })
}

func (s *Service) mutate(ctx context.Context, serviceID id.ServiceID, validate func(*models.Service) error, apply func(*models.Service)) (*models.Service, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := s.services.Execute(ctx, serviceID,
		func(svc *models.Service) error {
			if err := actor.RequireOrganization(svc.OrganizationID, access.RoleManager, access.RoleAdmin); err != nil {
				return err
			}
			return validate(svc)
		},
		apply)
	if err != nil {
		return nil, wrapServiceErr(err)
	}
	s.cache.Delete(serviceID)
	return svc, nil
}

func wrapServiceErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "service not found")
	}
	if de, ok := dErrors.As(err); ok {
		if de.Code == dErrors.CodeInvariantViolation {
			return dErrors.New(dErrors.CodeConflict, de.Message)
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "service store failure")
}
