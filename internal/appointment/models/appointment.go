// Package models holds consular appointments.
package models

import (
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusScheduled, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown appointment status: "+s)
}

// Appointment is a booked slot at an organization. A slot (organization and
// start time) holds at most one SCHEDULED appointment.
type Appointment struct {
	ID             id.AppointmentID  `json:"id"`
	UserID         id.UserID         `json:"user_id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	RequestID      id.RequestID      `json:"request_id,omitzero"`
	StartsAt       time.Time         `json:"starts_at"`
	Duration       time.Duration     `json:"-"`
	Status         Status            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DurationMinutes is exposed in JSON instead of the raw duration.
func (a Appointment) DurationMinutes() int {
	return int(a.Duration / time.Minute)
}

func NewAppointment(apptID id.AppointmentID, owner id.UserID, orgID id.OrganizationID, requestID id.RequestID, startsAt time.Time, duration time.Duration, now time.Time) *Appointment {
	return &Appointment{
		ID:             apptID,
		UserID:         owner,
		OrganizationID: orgID,
		RequestID:      requestID,
		StartsAt:       startsAt.UTC(),
		Duration:       duration,
		Status:         StatusScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (a *Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(a.Duration)
}

func (a *Appointment) CanCancel() error {
	if a.Status != StatusScheduled {
		return dErrors.New(dErrors.CodeInvariantViolation, "only a scheduled appointment can be cancelled")
	}
	return nil
}

func (a *Appointment) ApplyCancel(reason string, now time.Time) {
	a.Status = StatusCancelled
	a.Reason = reason
	a.CancelledAt = &now
	a.UpdatedAt = now
}

// CanComplete allows completion once the appointment has started.
func (a *Appointment) CanComplete(now time.Time) error {
	if a.Status != StatusScheduled {
		return dErrors.New(dErrors.CodeInvariantViolation, "only a scheduled appointment can be completed")
	}
	if now.Before(a.StartsAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "appointment has not started yet")
	}
	return nil
}

func (a *Appointment) ApplyComplete(now time.Time) {
	a.Status = StatusCompleted
	a.UpdatedAt = now
}

func (a *Appointment) Clone() *Appointment {
	c := *a
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// ListFilter selects appointments. From bounds StartsAt from below.
type ListFilter struct {
	UserID         id.UserID
	OrganizationID id.OrganizationID
	Status         Status
	From           time.Time
	Limit          int
	Offset         int
}
