// Package models holds the citizen profile aggregate and its review lifecycle.
package models

import (
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusInReview  Status = "IN_REVIEW"
	StatusValidated Status = "VALIDATED"
	StatusRejected  Status = "REJECTED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusInReview, StatusValidated, StatusRejected:
		return true
	}
	return false
}

// ParseStatus accepts any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown profile status: "+s)
	}
	return st, nil
}

// Profile is a citizen's consular-registration record. A user owns at most one.
type Profile struct {
	ID              id.ProfileID   `json:"id"`
	UserID          id.UserID      `json:"user_id"`
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	BirthDate       *time.Time     `json:"birth_date,omitempty"`
	BirthPlace      string         `json:"birth_place,omitempty"`
	Nationality     id.CountryCode `json:"nationality,omitempty"`
	Gender          string         `json:"gender,omitempty"`
	Address         string         `json:"address,omitempty"`
	DocumentNumber  string         `json:"document_number,omitempty"`
	DocumentExpiry  *time.Time     `json:"document_expiry,omitempty"`
	Status          Status         `json:"status"`
	SubmittedAt     *time.Time     `json:"submitted_at,omitempty"`
	ValidatedAt     *time.Time     `json:"validated_at,omitempty"`
	ValidatedBy     id.UserID      `json:"validated_by,omitzero"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Details is the editable part of a profile.
type Details struct {
	FirstName      string
	LastName       string
	BirthDate      *time.Time
	BirthPlace     string
	Nationality    id.CountryCode
	Gender         string
	Address        string
	DocumentNumber string
	DocumentExpiry *time.Time
}

func NewProfile(profileID id.ProfileID, owner id.UserID, d Details, now time.Time) *Profile {
	p := &Profile{
		ID:        profileID,
		UserID:    owner,
		Status:    StatusDraft,
		CreatedAt: now,
	}
	p.setDetails(d, now)
	return p
}

func (p *Profile) setDetails(d Details, now time.Time) {
	p.FirstName = d.FirstName
	p.LastName = d.LastName
	p.BirthDate = d.BirthDate
	p.BirthPlace = d.BirthPlace
	p.Nationality = d.Nationality
	p.Gender = d.Gender
	p.Address = d.Address
	p.DocumentNumber = d.DocumentNumber
	p.DocumentExpiry = d.DocumentExpiry
	p.UpdatedAt = now
}

// IsValidated reports whether consular staff confirmed the profile.
func (p *Profile) IsValidated() bool {
	return p.Status == StatusValidated
}

// CanEdit allows edits while DRAFT, or after a rejection.
func (p *Profile) CanEdit() error {
	if p.Status != StatusDraft && p.Status != StatusRejected {
		return dErrors.New(dErrors.CodeInvariantViolation, "profile cannot be edited while "+string(p.Status))
	}
	return nil
}

// ApplyEdit replaces the details. A rejected profile goes back to DRAFT.
func (p *Profile) ApplyEdit(d Details, now time.Time) {
	p.setDetails(d, now)
	if p.Status == StatusRejected {
		p.Status = StatusDraft
		p.RejectionReason = ""
	}
}

// CanSubmit requires a DRAFT profile carrying the fields review depends on.
func (p *Profile) CanSubmit() error {
	if p.Status != StatusDraft {
		return dErrors.New(dErrors.CodeInvariantViolation, "only a draft profile can be submitted")
	}
	switch {
	case p.FirstName == "" || p.LastName == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "profile is incomplete: name is required")
	case p.BirthDate == nil:
		return dErrors.New(dErrors.CodeInvariantViolation, "profile is incomplete: birth_date is required")
	case p.Nationality == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "profile is incomplete: nationality is required")
	}
	return nil
}

func (p *Profile) ApplySubmit(now time.Time) {
	p.Status = StatusSubmitted
	p.SubmittedAt = &now
	p.UpdatedAt = now
}

func (p *Profile) CanStartReview() error {
	if p.Status != StatusSubmitted {
		return dErrors.New(dErrors.CodeInvariantViolation, "only a submitted profile can be reviewed")
	}
	return nil
}

func (p *Profile) ApplyStartReview(now time.Time) {
	p.Status = StatusInReview
	p.UpdatedAt = now
}

// CanDecide checks an IN_REVIEW → VALIDATED | REJECTED transition.
func (p *Profile) CanDecide(target Status, reason string) error {
	if p.Status != StatusInReview {
		return dErrors.New(dErrors.CodeInvariantViolation, "profile is not in review")
	}
	switch target {
	case StatusValidated:
		return nil
	case StatusRejected:
		if strings.TrimSpace(reason) == "" {
			return dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "decision must be VALIDATED or REJECTED")
}

// ApplyDecision stamps the reviewer. Call CanDecide first.
func (p *Profile) ApplyDecision(target Status, reviewer id.UserID, reason string, now time.Time) {
	p.Status = target
	p.UpdatedAt = now
	if target == StatusValidated {
		p.ValidatedAt = &now
		p.ValidatedBy = reviewer
		p.RejectionReason = ""
		return
	}
	p.RejectionReason = strings.TrimSpace(reason)
}

// ListFilter narrows staff listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
