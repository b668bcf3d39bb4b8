package models

import (
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

const dateLayout = time.DateOnly

// ProfileRequest creates or replaces a profile's details. Dates use YYYY-MM-DD.
type ProfileRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	BirthDate      string `json:"birth_date"`
	BirthPlace     string `json:"birth_place"`
	Nationality    string `json:"nationality"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	DocumentNumber string `json:"document_number"`
	DocumentExpiry string `json:"document_expiry"`

	details Details
}

func (r *ProfileRequest) Validate() error {
	d := Details{
		FirstName:      strings.TrimSpace(r.FirstName),
		LastName:       strings.TrimSpace(r.LastName),
		BirthPlace:     strings.TrimSpace(r.BirthPlace),
		Gender:         strings.ToUpper(strings.TrimSpace(r.Gender)),
		Address:        strings.TrimSpace(r.Address),
		DocumentNumber: strings.TrimSpace(r.DocumentNumber),
	}
	if d.FirstName == "" {
		return dErrors.New(dErrors.CodeValidation, "first_name is required")
	}
	if d.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "last_name is required")
	}
	if len(d.FirstName) > 100 || len(d.LastName) > 100 {
		return dErrors.New(dErrors.CodeValidation, "name must be 100 characters or less")
	}
	switch d.Gender {
	case "", "MALE", "FEMALE", "OTHER":
	default:
		return dErrors.New(dErrors.CodeValidation, "gender must be MALE, FEMALE or OTHER")
	}
	var err error
	if d.BirthDate, err = parseDate("birth_date", r.BirthDate); err != nil {
		return err
	}
	if d.BirthDate != nil && d.BirthDate.After(time.Now()) {
		return dErrors.New(dErrors.CodeValidation, "birth_date cannot be in the future")
	}
	if d.DocumentExpiry, err = parseDate("document_expiry", r.DocumentExpiry); err != nil {
		return err
	}
	if strings.TrimSpace(r.Nationality) != "" {
		code, err := id.ParseCountryCode(r.Nationality)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "nationality must be an ISO 3166 alpha-2 code")
		}
		d.Nationality = code
	}
	r.details = d
	return nil
}

// Details returns the normalized values. Call Validate first.
func (r *ProfileRequest) Details() Details {
	return r.details
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, field+" must be formatted YYYY-MM-DD")
	}
	return &t, nil
}

// DecisionRequest carries a reviewer's verdict.
type DecisionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`

	parsed Status
}

func (r *DecisionRequest) Validate() error {
	st, err := ParseStatus(r.Status)
	if err != nil {
		return err
	}
	if st != StatusValidated && st != StatusRejected {
		return dErrors.New(dErrors.CodeValidation, "decision must be VALIDATED or REJECTED")
	}
	if st == StatusRejected && strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
	}
	r.parsed = st
	return nil
}

func (r *DecisionRequest) Decision() Status {
	return r.parsed
}
