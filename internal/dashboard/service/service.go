// Package service assembles the role-scoped dashboard from the other modules.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"consular/internal/access"
	apptmodels "consular/internal/appointment/models"
	dashmetrics "consular/internal/dashboard/metrics"
	requestmodels "consular/internal/request/models"
	dErrors "consular/pkg/domain-errors"
)

const (
	gatherTimeout    = 3 * time.Second
	upcomingPageSize = 5
)

// Scope names which aggregates a dashboard carries.
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeAgent        Scope = "agent"
	ScopeOrganization Scope = "organization"
	ScopeIntel        Scope = "intel"
	ScopeGlobal       Scope = "global"
)

type Requests interface {
	CountByStatus(ctx context.Context, f requestmodels.ListFilter) (requestmodels.StatusCounts, error)
}

type Inbox interface {
	UnreadCount(ctx context.Context) (int, error)
}

type Appointments interface {
	Upcoming(ctx context.Context, limit int) ([]*apptmodels.Appointment, error)
}

type Documents interface {
	CountPending(ctx context.Context) (int, error)
}

type Profiles interface {
	CountAwaitingReview(ctx context.Context) (int, error)
}

type Organizations interface {
	Count(ctx context.Context) (int, error)
}

// Summary is the dashboard payload. Sections outside the caller's scope are nil.
type Summary struct {
	Scope                  Scope                      `json:"scope"`
	Requests               requestmodels.StatusCounts `json:"requests"`
	UnreadNotifications    *int                       `json:"unread_notifications,omitempty"`
	UpcomingAppointments   []*apptmodels.Appointment  `json:"upcoming_appointments,omitempty"`
	PendingDocuments       *int                       `json:"pending_documents,omitempty"`
	ProfilesAwaitingReview *int                       `json:"profiles_awaiting_review,omitempty"`
	Organizations          *int                       `json:"organizations,omitempty"`
	GeneratedAt            time.Time                  `json:"generated_at"`
}

type Service struct {
	requests     Requests
	inbox        Inbox
	appointments Appointments
	documents    Documents
	profiles     Profiles
	orgs         Organizations
	logger       *slog.Logger
	metrics      *dashmetrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *dashmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(requests Requests, inbox Inbox, appointments Appointments, documents Documents, profiles Profiles, orgs Organizations, opts ...Option) *Service {
	s := &Service{
		requests:     requests,
		inbox:        inbox,
		appointments: appointments,
		documents:    documents,
		profiles:     profiles,
		orgs:         orgs,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScopeOf picks the widest scope the actor holds.
func ScopeOf(actor access.Actor) Scope {
	switch {
	case actor.IsSuperAdmin():
		return ScopeGlobal
	case actor.Has(access.RoleManager, access.RoleAdmin) && !actor.OrganizationID.IsNil():
		return ScopeOrganization
	case actor.Has(access.RoleAgent):
		return ScopeAgent
	case actor.Has(access.RoleIntelAgent):
		return ScopeIntel
	default:
		return ScopeUser
	}
}

// Summary gathers the sections for the caller's scope concurrently. The first
// failing section cancels the others.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	scope := ScopeOf(actor)

	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	out := &Summary{Scope: scope, GeneratedAt: s.now().UTC()}
	switch scope {
	case ScopeGlobal:
		s.gatherRequests(ctx, g, out, requestmodels.ListFilter{})
		s.gatherCount(ctx, g, "organizations", &out.Organizations, s.orgs.Count)
		s.gatherCount(ctx, g, "profiles", &out.ProfilesAwaitingReview, s.profiles.CountAwaitingReview)
	case ScopeOrganization:
		s.gatherRequests(ctx, g, out, requestmodels.ListFilter{OrganizationID: actor.OrganizationID})
		s.gatherCount(ctx, g, "profiles", &out.ProfilesAwaitingReview, s.profiles.CountAwaitingReview)
	case ScopeAgent:
		s.gatherRequests(ctx, g, out, requestmodels.ListFilter{
			OrganizationID:  actor.OrganizationID,
			AssignedAgentID: actor.UserID,
		})
		s.gatherCount(ctx, g, "documents", &out.PendingDocuments, s.documents.CountPending)
	case ScopeIntel:
		s.gatherCount(ctx, g, "profiles", &out.ProfilesAwaitingReview, s.profiles.CountAwaitingReview)
	default:
		s.gatherRequests(ctx, g, out, requestmodels.ListFilter{UserID: actor.UserID})
		s.gatherCount(ctx, g, "notifications", &out.UnreadNotifications, s.inbox.UnreadCount)
		g.Go(func() error {
			start := time.Now()
			upcoming, err := s.appointments.Upcoming(ctx, upcomingPageSize)
			s.metrics.ObserveSection("appointments", time.Since(start))
			if err != nil {
				return err
			}
			out.UpcomingAppointments = upcoming
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "dashboard section failed",
			"scope", scope,
			"user_id", actor.UserID,
			"error", err,
		)
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build dashboard")
	}
	if out.Requests == nil {
		out.Requests = requestmodels.StatusCounts{}
	}
	s.metrics.IncBuild(string(scope))
	return out, nil
}

func (s *Service) gatherRequests(ctx context.Context, g *errgroup.Group, out *Summary, f requestmodels.ListFilter) {
	g.Go(func() error {
		start := time.Now()
		counts, err := s.requests.CountByStatus(ctx, f)
		s.metrics.ObserveSection("requests", time.Since(start))
		if err != nil {
			return err
		}
		out.Requests = counts
		return nil
	})
}

// gatherCount writes one scalar section into dst.
func (s *Service) gatherCount(ctx context.Context, g *errgroup.Group, section string, dst **int, count func(context.Context) (int, error)) {
	g.Go(func() error {
		start := time.Now()
		n, err := count(ctx)
		s.metrics.ObserveSection(section, time.Since(start))
		if err != nil {
			return err
		}
		*dst = &n
		return nil
	})
}
