package models

import (
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusInactive
}

// CanTransitionTo allows active <-> inactive only.
func (s Status) CanTransitionTo(target Status) bool {
	return s.IsValid() && target.IsValid() && s != target
}

// Organization is a consulate or embassy. It groups the countries it serves,
// its consular services and its staff.
//
// Deactivation blocks new requests and appointments against the
// organization's services; in-flight requests continue.
type Organization struct {
	ID        id.OrganizationID `json:"id"`
	Name      string            `json:"name"`
	Countries []id.CountryCode  `json:"countries"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func NewOrganization(orgID id.OrganizationID, name string, countries []id.CountryCode, now time.Time) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name must be 128 characters or less")
	}
	if countries == nil {
		countries = []id.CountryCode{}
	}
	return &Organization{
		ID:        orgID,
		Name:      name,
		Countries: countries,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Organization) IsActive() bool {
	return o.Status == StatusActive
}

// Serves reports whether the organization covers country.
func (o *Organization) Serves(country id.CountryCode) bool {
	for _, c := range o.Countries {
		if c == country {
			return true
		}
	}
	return false
}

func (o *Organization) CanDeactivate() error {
	if !o.Status.CanTransitionTo(StatusInactive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "organization is already inactive")
	}
	return nil
}

func (o *Organization) ApplyDeactivation(now time.Time) {
	o.Status = StatusInactive
	o.UpdatedAt = now
}

func (o *Organization) CanReactivate() error {
	if !o.Status.CanTransitionTo(StatusActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "organization is already active")
	}
	return nil
}

func (o *Organization) ApplyReactivation(now time.Time) {
	o.Status = StatusActive
	o.UpdatedAt = now
}

// ApplyCountries replaces the served country list.
func (o *Organization) ApplyCountries(countries []id.CountryCode, now time.Time) {
	o.Countries = countries
	o.UpdatedAt = now
}
