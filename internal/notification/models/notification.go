// Package models holds notification types.
package models

import (
	"slices"
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type Type string

const (
	TypeRequestStatusChanged Type = "REQUEST_STATUS_CHANGED"
	TypeProfileStatusChanged Type = "PROFILE_STATUS_CHANGED"
	TypeDocumentValidated    Type = "DOCUMENT_VALIDATED"
	TypeDocumentRejected     Type = "DOCUMENT_REJECTED"
	TypeAppointmentBooked    Type = "APPOINTMENT_BOOKED"
	TypeAppointmentCancelled Type = "APPOINTMENT_CANCELLED"
	TypeAgentAssigned        Type = "AGENT_ASSIGNED"
)

type Channel string

const (
	ChannelApp   Channel = "APP"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Notification is a user-targeted message created as a side effect of
// another mutation.
type Notification struct {
	ID        id.NotificationID `json:"id"`
	UserID    id.UserID         `json:"user_id"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Channels  []Channel         `json:"channels"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	DeletedAt *time.Time        `json:"-"`
}

// Draft is what a triggering mutation asks the dispatcher to send.
type Draft struct {
	UserID   id.UserID
	Type     Type
	Title    string
	Message  string
	Channels []Channel
	Data     map[string]string
}

// Build validates the draft and stamps it into a Notification. APP is
// always among the channels.
func (d Draft) Build(notificationID id.NotificationID, now time.Time) (*Notification, error) {
	if d.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "notification requires a recipient")
	}
	if d.Type == "" || strings.TrimSpace(d.Title) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "notification requires a type and title")
	}
	channels := []Channel{ChannelApp}
	for _, c := range d.Channels {
		if !slices.Contains(channels, c) {
			channels = append(channels, c)
		}
	}
	return &Notification{
		ID:        notificationID,
		UserID:    d.UserID,
		Type:      d.Type,
		Title:     strings.TrimSpace(d.Title),
		Message:   d.Message,
		Channels:  channels,
		Data:      d.Data,
		CreatedAt: now,
	}, nil
}

// External reports whether the notification asks for email or SMS delivery.
func (n *Notification) External() []Channel {
	var out []Channel
	for _, c := range n.Channels {
		if c == ChannelEmail || c == ChannelSMS {
			out = append(out, c)
		}
	}
	return out
}

func (n *Notification) MarkRead(now time.Time) {
	if n.Read {
		return
	}
	n.Read = true
	n.ReadAt = &now
}

// ListFilter narrows a user's notification listing.
type ListFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
