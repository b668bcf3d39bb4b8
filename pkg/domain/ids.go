// Package domain holds the typed identifiers and small value primitives shared
// by every bounded context. Typed IDs stop a RequestID from being passed where
// a ProfileID is expected; parsing happens once, at the trust boundary.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "consular/pkg/domain-errors"
)

type (
	UserID         uuid.UUID
	SessionID      uuid.UUID
	OrganizationID uuid.UUID
	ProfileID      uuid.UUID
	ServiceID      uuid.UUID
	RequestID      uuid.UUID
	DocumentID     uuid.UUID
	NotificationID uuid.UUID
	AppointmentID  uuid.UUID
)

func (i UserID) String() string         { return uuid.UUID(i).String() }
func (i SessionID) String() string      { return uuid.UUID(i).String() }
func (i OrganizationID) String() string { return uuid.UUID(i).String() }
func (i ProfileID) String() string      { return uuid.UUID(i).String() }
func (i ServiceID) String() string      { return uuid.UUID(i).String() }
func (i RequestID) String() string      { return uuid.UUID(i).String() }
func (i DocumentID) String() string     { return uuid.UUID(i).String() }
func (i NotificationID) String() string { return uuid.UUID(i).String() }
func (i AppointmentID) String() string  { return uuid.UUID(i).String() }

func (i UserID) IsNil() bool         { return uuid.UUID(i) == uuid.Nil }
func (i SessionID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i OrganizationID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i ProfileID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i ServiceID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i RequestID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i DocumentID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (i NotificationID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i AppointmentID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }

// MarshalText lets typed IDs serialize as plain UUID strings in JSON bodies
// and as map keys.
func (i UserID) MarshalText() ([]byte, error)         { return uuid.UUID(i).MarshalText() }
func (i SessionID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i OrganizationID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i ProfileID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i ServiceID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i RequestID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i DocumentID) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }
func (i NotificationID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i AppointmentID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }

func (i *UserID) UnmarshalText(b []byte) error         { return unmarshalID((*uuid.UUID)(i), b) }
func (i *SessionID) UnmarshalText(b []byte) error      { return unmarshalID((*uuid.UUID)(i), b) }
func (i *OrganizationID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(i), b) }
func (i *ProfileID) UnmarshalText(b []byte) error      { return unmarshalID((*uuid.UUID)(i), b) }
func (i *ServiceID) UnmarshalText(b []byte) error      { return unmarshalID((*uuid.UUID)(i), b) }
func (i *RequestID) UnmarshalText(b []byte) error      { return unmarshalID((*uuid.UUID)(i), b) }
func (i *DocumentID) UnmarshalText(b []byte) error     { return unmarshalID((*uuid.UUID)(i), b) }
func (i *NotificationID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(i), b) }
func (i *AppointmentID) UnmarshalText(b []byte) error  { return unmarshalID((*uuid.UUID)(i), b) }

func unmarshalID(dst *uuid.UUID, b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid id format")
	}
	*dst = parsed
	return nil
}

// parseUUID enforces the trust-boundary rule shared by every Parse*ID:
// the input must be a non-empty, well-formed, non-nil UUID.
func parseUUID(kind, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind+" format")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user ID", s)
	return UserID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session ID", s)
	return SessionID(u), err
}

func ParseOrganizationID(s string) (OrganizationID, error) {
	u, err := parseUUID("organization ID", s)
	return OrganizationID(u), err
}

func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID("profile ID", s)
	return ProfileID(u), err
}

func ParseServiceID(s string) (ServiceID, error) {
	u, err := parseUUID("service ID", s)
	return ServiceID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID("request ID", s)
	return RequestID(u), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID("document ID", s)
	return DocumentID(u), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID("notification ID", s)
	return NotificationID(u), err
}

func ParseAppointmentID(s string) (AppointmentID, error) {
	u, err := parseUUID("appointment ID", s)
	return AppointmentID(u), err
}
