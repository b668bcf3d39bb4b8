// Package service implements account registration, authentication, role
// assignment and soft deletion.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"consular/internal/access"
	"consular/internal/mirror"
	usermetrics "consular/internal/user/metrics"
	"consular/internal/user/models"
	"consular/internal/user/password"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/email"
	audit "consular/pkg/platform/audit"
	authmw "consular/pkg/platform/middleware/auth"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
	"consular/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListByOrganization(ctx context.Context, orgID id.OrganizationID, limit, offset int) ([]*models.User, error)
	ExistsWithRole(ctx context.Context, role access.Role) (bool, error)
	Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates user accounts.
type Service struct {
	users   Store
	tx      tx.Runner
	mirror  *mirror.Mirror
	audit   AuditPublisher
	logger  *slog.Logger
	metrics *usermetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *usermetrics.Metrics) Option {
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

func New(users Store, opts ...Option) *Service {
	s := &Service{users: users, tx: tx.NoopRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a citizen account holding the USER role.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.create(ctx, req.Email, req.Password, req.FirstName, req.LastName, req.Phone,
		[]access.Role{access.RoleUser}, audit.EventUserRegistered)
}

// BootstrapSuperAdmin creates the first SUPER_ADMIN. It refuses once any
// live SUPER_ADMIN exists.
func (s *Service) BootstrapSuperAdmin(ctx context.Context, req *models.BootstrapRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exists, err := s.users.ExistsWithRole(ctx, access.RoleSuperAdmin)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing administrators")
	}
	if exists {
		return nil, dErrors.New(dErrors.CodeConflict, "a super administrator already exists")
	}
	return s.create(ctx, req.Email, req.Password, req.FirstName, req.LastName, "",
		[]access.Role{access.RoleSuperAdmin, access.RoleUser}, audit.EventSuperAdminSeed)
}

func (s *Service) create(ctx context.Context, emailAddr, plain, firstName, lastName, phone string, roles []access.Role, event audit.AuditEvent) (*models.User, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}
	if firstName == "" && lastName == "" {
		firstName, lastName = email.DeriveName(emailAddr)
	}

	var user *models.User
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		u, err := models.NewUser(id.UserID(uuid.New()), emailAddr, firstName, lastName, phone, hash, roles, requestcontext.Now(txCtx))
		if err != nil {
			return toValidation(err)
		}
		if err := s.users.Create(txCtx, u); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "email is already registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
		}
		if err := s.emit(txCtx, audit.NewEvent(txCtx, event, u.ID)); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRegistered()
	s.mirror.Put(ctx, mirror.KindUser, user.ID.String(), user)
	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID,
		"roles", access.Strings(user.Roles),
		"request_id", requestcontext.RequestID(ctx),
	)
	return user, nil
}

// Authenticate verifies credentials. Unknown emails, wrong passwords and
// deleted or inactive accounts all yield the same unauthorized error.
func (s *Service) Authenticate(ctx context.Context, emailAddr, plain string) (*models.User, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")

	user, err := s.users.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.loginFailed(ctx, emailAddr, "unknown_email")
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if !user.IsActive() {
		s.loginFailed(ctx, emailAddr, "inactive_account")
		return nil, invalid
	}
	if err := password.Verify(plain, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.loginFailed(ctx, emailAddr, "wrong_password")
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}

	s.metrics.IncLogin("success")
	_ = s.emit(ctx, audit.NewEvent(ctx, audit.EventLoginSucceeded, user.ID))
	return user, nil
}

func (s *Service) loginFailed(ctx context.Context, emailAddr, reason string) {
	s.metrics.IncLogin("failure")
	e := audit.NewEvent(ctx, audit.EventLoginFailed, id.UserID{})
	e.Subject = models.NormalizeEmail(emailAddr)
	e.Reason = reason
	_ = s.emit(ctx, e)
	s.logger.WarnContext(ctx, "login failed",
		"reason", reason,
		"client_ip", requestcontext.ClientIP(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
}

// Get returns a user. The caller must be the user, staff of the user's
// organization, or a super admin. Reads go through the document mirror.
func (s *Service) Get(ctx context.Context, userID id.UserID) (*models.User, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != user.ID && !actor.CanManageOrganization(user.OrganizationID, access.ManagerRoles...) {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	return user, nil
}

func (s *Service) read(ctx context.Context, userID id.UserID) (*models.User, error) {
	var cached models.User
	if found, err := s.mirror.Get(ctx, mirror.KindUser, userID.String(), &cached); err == nil && found && !cached.IsDeleted() {
		return &cached, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "mirror read failed, using database",
			"user_id", userID,
			"error", err,
		)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, wrapUserErr(err)
	}
	if user.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	s.mirror.Put(ctx, mirror.KindUser, user.ID.String(), user)
	return user, nil
}

// LoadPrincipal resolves the live role set for the auth middleware. It reads
// the database directly and rejects deleted or inactive accounts.
func (s *Service) LoadPrincipal(ctx context.Context, userID id.UserID) (*authmw.Principal, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, wrapUserErr(err)
	}
	if !user.IsActive() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "account is not active")
	}
	return &authmw.Principal{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Roles:          access.Strings(user.Roles),
	}, nil
}

// ListByOrganization lists live accounts of orgID for its managers and admins.
func (s *Service) ListByOrganization(ctx context.Context, orgID id.OrganizationID, limit, offset int) ([]*models.User, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := actor.RequireOrganization(orgID, access.ManagerRoles...); err != nil {
		return nil, err
	}
	users, err := s.users.ListByOrganization(ctx, orgID, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	return users, nil
}

// AssignRoles replaces a user's roles and organization. ADMIN acts inside
// its own organization; only SUPER_ADMIN grants ADMIN, SUPER_ADMIN or
// INTEL_AGENT.
func (s *Service) AssignRoles(ctx context.Context, userID id.UserID, req *models.AssignRolesRequest) (*models.User, error) {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	roles := req.ParsedRoles()
	orgID := req.ParsedOrganization()

	if !actor.IsSuperAdmin() {
		if access.HasAnyRole(roles, []access.Role{access.RoleAdmin, access.RoleSuperAdmin, access.RoleIntelAgent}) {
			return nil, dErrors.New(dErrors.CodeForbidden, "only a super administrator can grant this role")
		}
		if err := actor.RequireOrganization(orgID, access.RoleAdmin); err != nil {
			return nil, err
		}
	}
	if actor.UserID == userID && !actor.IsSuperAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot change your own roles")
	}

	var updated *models.User
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		u, err := s.users.Execute(txCtx, userID,
			func(u *models.User) error {
				if !actor.IsSuperAdmin() && !u.OrganizationID.IsNil() && u.OrganizationID != actor.OrganizationID {
					return dErrors.New(dErrors.CodeForbidden, "user belongs to another organization")
				}
				return u.CanAssignRoles(roles)
			},
			func(u *models.User) {
				u.ApplyRoles(roles, orgID, requestcontext.Now(txCtx))
			},
		)
		if err != nil {
			return wrapUserErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventRolesAssigned, u.ID)
		e.Decision = strings.Join(access.Strings(roles), ",")
		if err := s.emit(txCtx, e); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirror.Put(ctx, mirror.KindUser, updated.ID.String(), updated)
	return updated, nil
}

// SoftDelete marks a user DELETED. Deleted users cannot log in and are
// rejected by the auth middleware.
func (s *Service) SoftDelete(ctx context.Context, userID id.UserID) error {
	actor, err := access.ActorFrom(ctx)
	if err != nil {
		return err
	}
	if actor.UserID == userID {
		return dErrors.New(dErrors.CodeForbidden, "cannot delete your own account")
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		u, err := s.users.Execute(txCtx, userID,
			func(u *models.User) error {
				if !actor.CanManageOrganization(u.OrganizationID, access.RoleAdmin) {
					return dErrors.New(dErrors.CodeForbidden, "not allowed to delete this user")
				}
				return u.CanDelete()
			},
			func(u *models.User) {
				u.ApplyDeletion(requestcontext.Now(txCtx))
			},
		)
		if err != nil {
			return wrapUserErr(err)
		}
		e := audit.NewEvent(txCtx, audit.EventUserDeleted, u.ID)
		e.Subject = u.Email
		return s.emit(txCtx, e)
	})
	if err != nil {
		return err
	}
	s.metrics.IncDeleted()
	s.mirror.Delete(ctx, mirror.KindUser, userID.String())
	return nil
}

// LinkProfile records the profile a user owns. Called by the profile service.
func (s *Service) LinkProfile(ctx context.Context, userID id.UserID, profileID id.ProfileID) error {
	u, err := s.users.Execute(ctx, userID,
		func(u *models.User) error {
			if !u.ProfileID.IsNil() && u.ProfileID != profileID {
				return dErrors.New(dErrors.CodeConflict, "user already owns a profile")
			}
			return nil
		},
		func(u *models.User) {
			u.LinkProfile(profileID, requestcontext.Now(ctx))
		},
	)
	if err != nil {
		return wrapUserErr(err)
	}
	s.mirror.Put(ctx, mirror.KindUser, u.ID.String(), u)
	return nil
}

// RequireStaffMember checks that userID is an active member of orgID holding
// one of roles. Used when work is handed to another staff member.
func (s *Service) RequireStaffMember(ctx context.Context, userID id.UserID, orgID id.OrganizationID, roles ...access.Role) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeValidation, "assignee is not a member of this organization")
		}
		return wrapUserErr(err)
	}
	if !u.IsActive() || u.OrganizationID != orgID || !u.HasRole(roles...) {
		return dErrors.New(dErrors.CodeValidation, "assignee is not a member of this organization")
	}
	return nil
}

// Contact returns the address book entry used by notification delivery.
func (s *Service) Contact(ctx context.Context, userID id.UserID) (emailAddr, phone string, err error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", "", wrapUserErr(err)
	}
	return u.Email, u.Phone, nil
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

func wrapUserErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	if _, ok := dErrors.As(err); ok {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "user store failure")
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
