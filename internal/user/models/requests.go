package models

import (
	"strings"

	"consular/internal/access"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/email"
)

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func (r *RegisterRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Phone = strings.TrimSpace(r.Phone)
}

func (r *RegisterRequest) Validate() error {
	r.Normalize()
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if !email.IsValid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if len(r.FirstName) > 100 || len(r.LastName) > 100 {
		return dErrors.New(dErrors.CodeValidation, "name must be 100 characters or less")
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.Email = NormalizeEmail(r.Email)
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	return nil
}

// AssignRolesRequest replaces a user's role set and organization.
type AssignRolesRequest struct {
	Roles          []string `json:"roles"`
	OrganizationID string   `json:"organization_id"`

	parsedRoles []access.Role
	parsedOrg   id.OrganizationID
}

func (r *AssignRolesRequest) Validate() error {
	roles, err := access.ParseRoles(r.Roles)
	if err != nil {
		return err
	}
	r.parsedRoles = roles
	r.parsedOrg = id.OrganizationID{}
	if strings.TrimSpace(r.OrganizationID) != "" {
		orgID, err := id.ParseOrganizationID(r.OrganizationID)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "organization_id is invalid")
		}
		r.parsedOrg = orgID
	}
	for _, role := range roles {
		if role != access.RoleUser && role != access.RoleSuperAdmin && role != access.RoleIntelAgent && r.parsedOrg.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "organization_id is required for "+role.String())
		}
	}
	return nil
}

func (r *AssignRolesRequest) ParsedRoles() []access.Role { return r.parsedRoles }

func (r *AssignRolesRequest) ParsedOrganization() id.OrganizationID { return r.parsedOrg }

// BootstrapRequest creates the first SUPER_ADMIN account.
type BootstrapRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (r *BootstrapRequest) Validate() error {
	r.Email = NormalizeEmail(r.Email)
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	return nil
}
