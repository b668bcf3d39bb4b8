// Package service implements the citizen profile lifecycle: creation, edits,
// submission and staff review.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"consular/internal/access"
	"consular/internal/mirror"
	notifmodels "consular/internal/notification/models"
	profilemetrics "consular/internal/profile/metrics"
	"consular/internal/profile/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
	"consular/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, p *models.Profile) error
	FindByID(ctx context.Context, profileID id.ProfileID) (*models.Profile, error)
	FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error)
	List(ctx context.Context, f models.ListFilter) ([]*models.Profile, error)
	CountByStatus(ctx context.Context, statuses ...models.Status) (int, error)
	Execute(ctx context.Context, profileID id.ProfileID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error)
}

// Users links a new profile to its owning account.
type Users interface {
	LinkProfile(ctx context.Context, userID id.UserID, profileID id.ProfileID) error
}

type Notifier interface {
	Notify(ctx context.Context, draft notifmodels.Draft)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	profiles Store
	users    Users
	notifier Notifier
	tx       tx.Runner
	mirror   *mirror.Mirror
	audit    AuditPublisher
	logger   *slog.Logger
	metrics  *profilemetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *profilemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithMirror(m *mirror.Mirror) Option {
	return func(s *Service) {
		s.mirror = m
	}
}

func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func New(profiles Store, users Users, opts ...Option) *Service {
	s := &Service{profiles: profiles, users: users, tx: tx.NoopRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens the caller's profile in DRAFT. A user owns at most one.
func (s *Service) Create(ctx context.Context, req *models.ProfileRequest) (*models.Profile, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var created *models.Profile
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p := models.NewProfile(id.ProfileID(uuid.New()), actor.UserID, req.Details(), requestcontext.Now(txCtx))
		if err := s.profiles.Create(txCtx, p); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "user already has a profile")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create profile")
		}
		if err := s.users.LinkProfile(txCtx, actor.UserID, p.ID); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCreated()
	s.mirror.Put(ctx, mirror.KindProfile, created.ID.String(), created)
	s.logger.InfoContext(ctx, "profile created",
		"profile_id", created.ID,
		"user_id", created.UserID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return created, nil
}

// Mine returns the caller's own profile.
func (s *Service) Mine(ctx context.Context) (*models.Profile, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.profiles.FindByUser(ctx, actor.UserID)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	return p, nil
}

// Get returns a profile to its owner, to staff and to intelligence agents.
func (s *Service) Get(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.read(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p.UserID != actor.UserID && !actor.Has(access.ProfileReader...) {
		return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	return p, nil
}

// OwnedBy returns the profile of userID. Used by the request workflow, which
// does its own authorization.
func (s *Service) OwnedBy(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	p, err := s.profiles.FindByUser(ctx, userID)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	return p, nil
}

func (s *Service) read(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	var cached models.Profile
	found, err := s.mirror.Get(ctx, mirror.KindProfile, profileID.String(), &cached)
	if err != nil {
		s.logger.WarnContext(ctx, "mirror read failed, using database",
			"profile_id", profileID,
			"error", err,
		)
	}
	if found {
		return &cached, nil
	}
	p, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	s.mirror.Put(ctx, mirror.KindProfile, p.ID.String(), p)
	return p, nil
}

// List is the staff review queue.
func (s *Service) List(ctx context.Context, f models.ListFilter) ([]*models.Profile, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Has(access.ProfileReader...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to list profiles")
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	f.Offset = max(f.Offset, 0)
	list, err := s.profiles.List(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list profiles")
	}
	return list, nil
}

// CountAwaitingReview counts SUBMITTED and IN_REVIEW profiles.
func (s *Service) CountAwaitingReview(ctx context.Context) (int, error) {
	n, err := s.profiles.CountByStatus(ctx, models.StatusSubmitted, models.StatusInReview)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count profiles")
	}
	return n, nil
}

// Update replaces the details of a DRAFT or REJECTED profile. Editing a
// rejected profile moves it back to DRAFT.
func (s *Service) Update(ctx context.Context, profileID id.ProfileID, req *models.ProfileRequest) (*models.Profile, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var before models.Status
	p, err := s.profiles.Execute(ctx, profileID,
		func(p *models.Profile) error {
			if p.UserID != actor.UserID {
				return dErrors.New(dErrors.CodeNotFound, "profile not found")
			}
			before = p.Status
			return p.CanEdit()
		},
		func(p *models.Profile) {
			p.ApplyEdit(req.Details(), requestcontext.Now(ctx))
		},
	)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	s.mirror.Put(ctx, mirror.KindProfile, p.ID.String(), p)
	if before != p.Status {
		s.statusChanged(ctx, p)
	}
	return p, nil
}

// Submit sends a DRAFT profile to consular staff.
func (s *Service) Submit(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, profileID,
		func(p *models.Profile) error {
			if p.UserID != actor.UserID {
				return dErrors.New(dErrors.CodeNotFound, "profile not found")
			}
			return p.CanSubmit()
		},
		func(p *models.Profile) { p.ApplySubmit(requestcontext.Now(ctx)) },
	)
}

// StartReview moves a SUBMITTED profile to IN_REVIEW.
func (s *Service) StartReview(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	if err := requireStaff(ctx); err != nil {
		return nil, err
	}
	return s.transition(ctx, profileID,
		func(p *models.Profile) error { return p.CanStartReview() },
		func(p *models.Profile) { p.ApplyStartReview(requestcontext.Now(ctx)) },
	)
}

// Decide validates or rejects a profile under review.
func (s *Service) Decide(ctx context.Context, profileID id.ProfileID, req *models.DecisionRequest) (*models.Profile, error) {
	if err := requireStaff(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	actor, _ := access.ActorFrom(ctx)
	decision := req.Decision()

	var decided *models.Profile
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		p, err := s.profiles.Execute(txCtx, profileID,
			func(p *models.Profile) error { return p.CanDecide(decision, req.Reason) },
			func(p *models.Profile) {
				p.ApplyDecision(decision, actor.UserID, req.Reason, requestcontext.Now(txCtx))
			},
		)
		if err != nil {
			return wrapProfileErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventProfileReviewed, p.UserID)
		e.Subject = p.ID.String()
		e.Decision = string(decision)
		e.Reason = p.RejectionReason
		if err := s.emit(txCtx, e); err != nil {
			return err
		}
		decided = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirror.Put(ctx, mirror.KindProfile, decided.ID.String(), decided)
	s.statusChanged(ctx, decided)
	return decided, nil
}

func (s *Service) transition(ctx context.Context, profileID id.ProfileID, validate func(*models.Profile) error, mutate func(*models.Profile)) (*models.Profile, error) {
	p, err := s.profiles.Execute(ctx, profileID, validate, mutate)
	if err != nil {
		return nil, wrapProfileErr(err)
	}
	s.mirror.Put(ctx, mirror.KindProfile, p.ID.String(), p)
	s.statusChanged(ctx, p)
	return p, nil
}

func (s *Service) statusChanged(ctx context.Context, p *models.Profile) {
	s.metrics.IncTransition(string(p.Status))
	s.logger.InfoContext(ctx, "profile status changed",
		"profile_id", p.ID,
		"status", p.Status,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.notifier == nil {
		return
	}
	draft := notifmodels.Draft{
		UserID:  p.UserID,
		Type:    notifmodels.TypeProfileStatusChanged,
		Title:   "Your consular profile is now " + string(p.Status),
		Message: p.RejectionReason,
		Data: map[string]string{
			"profile_id": p.ID.String(),
			"status":     string(p.Status),
		},
	}
	if p.Status == models.StatusValidated || p.Status == models.StatusRejected {
		draft.Channels = []notifmodels.Channel{notifmodels.ChannelEmail}
	}
	s.notifier.Notify(ctx, draft)
}

func requireStaff(ctx context.Context) error {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return err
	}
	if !actor.Has(access.StaffRoles...) {
		return dErrors.New(dErrors.CodeForbidden, "only consular staff can review profiles")
	}
	return nil
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

func wrapProfileErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	if _, ok := dErrors.As(err); ok {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "profile store failure")
}
