package models

import (
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

const (
	defaultDurationMinutes = 30
	maxDurationMinutes     = 240
)

type BookRequest struct {
	OrganizationID  string `json:"organization_id"`
	RequestID       string `json:"request_id"`
	StartsAt        string `json:"starts_at"`
	DurationMinutes int    `json:"duration_minutes"`

	orgID     id.OrganizationID
	requestID id.RequestID
	startsAt  time.Time
}

func (r *BookRequest) Validate() error {
	orgID, err := id.ParseOrganizationID(r.OrganizationID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "organization_id is required")
	}
	startsAt, err := time.Parse(time.RFC3339, strings.TrimSpace(r.StartsAt))
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "starts_at must be an RFC 3339 timestamp")
	}
	if r.DurationMinutes == 0 {
		r.DurationMinutes = defaultDurationMinutes
	}
	if r.DurationMinutes < 5 || r.DurationMinutes > maxDurationMinutes {
		return dErrors.New(dErrors.CodeValidation, "duration_minutes must be between 5 and 240")
	}
	if raw := strings.TrimSpace(r.RequestID); raw != "" {
		requestID, err := id.ParseRequestID(raw)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "request_id is invalid")
		}
		r.requestID = requestID
	}
	r.orgID = orgID
	r.startsAt = startsAt.UTC().Truncate(time.Minute)
	return nil
}

func (r *BookRequest) ParsedOrganization() id.OrganizationID { return r.orgID }

func (r *BookRequest) ParsedRequest() id.RequestID { return r.requestID }

func (r *BookRequest) ParsedStart() time.Time { return r.startsAt }

func (r *BookRequest) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (r *CancelRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeValidation, "reason must be 500 characters or less")
	}
	return nil
}
