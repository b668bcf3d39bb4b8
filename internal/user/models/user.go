package models

import (
	"strings"
	"time"

	"consular/internal/access"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/email"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusDeleted  Status = "DELETED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeleted:
		return true
	}
	return false
}

// User is the aggregate root for an account.
//
// Invariants:
//   - Email is a valid address, stored lower-case
//   - Roles is non-empty
//   - A DELETED user has DeletedAt set and never authenticates
type User struct {
	ID             id.UserID         `json:"id"`
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name"`
	Phone          string            `json:"phone,omitempty"`
	PasswordHash   string            `json:"-"`
	Roles          []access.Role     `json:"roles"`
	OrganizationID id.OrganizationID `json:"organization_id,omitzero"`
	ProfileID      id.ProfileID      `json:"profile_id,omitzero"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
}

func NewUser(userID id.UserID, emailAddr, firstName, lastName, phone, passwordHash string, roles []access.Role, now time.Time) (*User, error) {
	addr := email.Normalize(emailAddr)
	if !email.IsValid(addr) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is invalid")
	}
	if len(roles) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user must hold at least one role")
	}
	return &User{
		ID:           userID,
		Email:        addr,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		Phone:        strings.TrimSpace(phone),
		PasswordHash: passwordHash,
		Roles:        roles,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func NormalizeEmail(addr string) string {
	return email.Normalize(addr)
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive && u.DeletedAt == nil
}

func (u *User) IsDeleted() bool {
	return u.Status == StatusDeleted || u.DeletedAt != nil
}

func (u *User) HasRole(roles ...access.Role) bool {
	return access.HasAnyRole(u.Roles, roles)
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CanDelete checks the soft-delete transition.
func (u *User) CanDelete() error {
	if u.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "user is already deleted")
	}
	return nil
}

// ApplyDeletion soft-deletes the user. Call CanDelete first.
func (u *User) ApplyDeletion(now time.Time) {
	u.Status = StatusDeleted
	u.DeletedAt = &now
	u.UpdatedAt = now
}

func (u *User) Delete(now time.Time) error {
	if err := u.CanDelete(); err != nil {
		return err
	}
	u.ApplyDeletion(now)
	return nil
}

// CanAssignRoles rejects role changes on deleted accounts and empty role sets.
func (u *User) CanAssignRoles(roles []access.Role) error {
	if u.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot change roles of a deleted user")
	}
	if len(roles) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "user must hold at least one role")
	}
	return nil
}

// ApplyRoles replaces the role set and organization link.
func (u *User) ApplyRoles(roles []access.Role, orgID id.OrganizationID, now time.Time) {
	u.Roles = roles
	u.OrganizationID = orgID
	u.UpdatedAt = now
}

// LinkProfile records the user's single profile.
func (u *User) LinkProfile(profileID id.ProfileID, now time.Time) {
	u.ProfileID = profileID
	u.UpdatedAt = now
}
