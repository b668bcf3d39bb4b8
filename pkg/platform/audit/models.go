package audit

import (
	"context"
	"time"

	id "consular/pkg/domain"
	"consular/pkg/requestcontext"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: account
	// lifecycle, role grants, request decisions, document validation.
	// These are written synchronously and fail closed.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication failures, logouts and
	// organization suspensions. Buffered and flushed in the background.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity. Best-effort.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	// UserID is the account the action concerns.
	UserID id.UserID `json:"user_id,omitzero"`
	// ActorID is who performed the action when different from UserID.
	ActorID   string `json:"actor_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
	Decision  string `json:"decision,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	Device    string `json:"device,omitempty"`
}

type AuditEvent string

const (
	// Account events
	EventUserRegistered AuditEvent = "user_registered"
	EventUserDeleted    AuditEvent = "user_deleted"
	EventRolesAssigned  AuditEvent = "roles_assigned"
	EventSuperAdminSeed AuditEvent = "super_admin_bootstrapped"

	// Session events
	EventLoginSucceeded AuditEvent = "login_succeeded"
	EventLoginFailed    AuditEvent = "login_failed"
	EventLoggedOut      AuditEvent = "logged_out"

	// Organization events
	EventOrganizationCreated     AuditEvent = "organization_created"
	EventOrganizationDeactivated AuditEvent = "organization_deactivated"
	EventOrganizationReactivated AuditEvent = "organization_reactivated"

	// Workflow events
	EventRequestReviewed   AuditEvent = "request_reviewed"
	EventRequestCompleted  AuditEvent = "request_completed"
	EventRequestDeleted    AuditEvent = "request_deleted"
	EventAgentAssigned     AuditEvent = "agent_assigned"
	EventDocumentValidated AuditEvent = "document_validated"
	EventProfileReviewed   AuditEvent = "profile_reviewed"

	// Appointment events
	EventAppointmentCancelled AuditEvent = "appointment_cancelled"
	EventAppointmentCompleted AuditEvent = "appointment_completed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserRegistered:    CategoryCompliance,
	EventUserDeleted:       CategoryCompliance,
	EventRolesAssigned:     CategoryCompliance,
	EventSuperAdminSeed:    CategoryCompliance,
	EventRequestReviewed:   CategoryCompliance,
	EventRequestCompleted:  CategoryCompliance,
	EventDocumentValidated: CategoryCompliance,
	EventProfileReviewed:   CategoryCompliance,

	EventLoginFailed:             CategorySecurity,
	EventLoggedOut:               CategorySecurity,
	EventOrganizationDeactivated: CategorySecurity,

	EventLoginSucceeded:          CategoryOperations,
	EventOrganizationCreated:     CategoryOperations,
	EventOrganizationReactivated: CategoryOperations,
	EventRequestDeleted:          CategoryOperations,
	EventAgentAssigned:           CategoryOperations,
	EventAppointmentCancelled:    CategoryOperations,
	EventAppointmentCompleted:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// NewEvent builds an event for action concerning userID, enriched with the
// request metadata carried by ctx.
func NewEvent(ctx context.Context, action AuditEvent, userID id.UserID) Event {
	e := Event{
		Category:  action.Category(),
		Timestamp: requestcontext.Now(ctx),
		UserID:    userID,
		Action:    string(action),
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Device:    requestcontext.Device(ctx),
	}
	if actor := requestcontext.UserID(ctx); !actor.IsNil() && actor != userID {
		e.ActorID = actor.String()
	}
	return e
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListByUser(ctx context.Context, userID id.UserID, limit int) ([]Event, error)
}
