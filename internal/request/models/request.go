// Package models holds the service request aggregate and its transition table.
package models

import (
	"maps"
	"slices"
	"strings"
	"time"

	catalogmodels "consular/internal/catalog/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

// ServiceRequest is a citizen's invocation of a consular service.
//
// Invariants:
//   - Status only moves along the transition table
//   - SubmittedAt is set whenever Status has left DRAFT
//   - A profile holds at most one active REGISTRATION request (enforced by the store)
type ServiceRequest struct {
	ID              id.RequestID           `json:"id"`
	Reference       string                 `json:"reference"`
	UserID          id.UserID              `json:"user_id"`
	ProfileID       id.ProfileID           `json:"profile_id"`
	ServiceID       id.ServiceID           `json:"service_id"`
	OrganizationID  id.OrganizationID      `json:"organization_id"`
	Category        catalogmodels.Category `json:"category"`
	AppointmentID   id.AppointmentID       `json:"appointment_id,omitzero"`
	DocumentIDs     []id.DocumentID        `json:"document_ids"`
	FormData        map[string]any         `json:"form_data"`
	AssignedAgentID id.UserID              `json:"assigned_agent_id,omitzero"`
	ReviewNote      string                 `json:"review_note,omitempty"`
	Status          Status                 `json:"status"`
	SubmittedAt     *time.Time             `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time             `json:"reviewed_at,omitempty"`
	ReviewedBy      id.UserID              `json:"reviewed_by,omitzero"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// NewServiceRequest opens a DRAFT request for svc.
func NewServiceRequest(requestID id.RequestID, reference string, owner id.UserID, profileID id.ProfileID, svc *catalogmodels.Service, formData map[string]any, docs []id.DocumentID, now time.Time) *ServiceRequest {
	if formData == nil {
		formData = map[string]any{}
	}
	return &ServiceRequest{
		ID:             requestID,
		Reference:      reference,
		UserID:         owner,
		ProfileID:      profileID,
		ServiceID:      svc.ID,
		OrganizationID: svc.OrganizationID,
		Category:       svc.Category,
		DocumentIDs:    docs,
		FormData:       formData,
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsActive reports whether the request still counts against the
// one-active-registration rule.
func (r *ServiceRequest) IsActive() bool {
	return !r.Status.IsTerminal()
}

// IsRegistration reports whether the request belongs to the REGISTRATION category.
func (r *ServiceRequest) IsRegistration() bool {
	return r.Category == catalogmodels.CategoryRegistration
}

func (r *ServiceRequest) canMove(to Status) error {
	if !CanTransition(r.Status, to) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cannot move request from "+string(r.Status)+" to "+string(to))
	}
	return nil
}

func (r *ServiceRequest) move(to Status, now time.Time) {
	r.Status = to
	r.UpdatedAt = now
}

// CanEdit allows the owner to edit while DRAFT or ADDITIONAL_INFO_NEEDED.
func (r *ServiceRequest) CanEdit() error {
	if r.Status != StatusDraft && r.Status != StatusAdditionalInfoNeeded {
		return dErrors.New(dErrors.CodeInvariantViolation, "request cannot be edited while "+string(r.Status))
	}
	return nil
}

// Edit holds optional replacements; nil fields are left unchanged.
type Edit struct {
	FormData      map[string]any
	DocumentIDs   []id.DocumentID
	AppointmentID *id.AppointmentID
}

func (r *ServiceRequest) ApplyEdit(e Edit, now time.Time) {
	if e.FormData != nil {
		r.FormData = e.FormData
	}
	if e.DocumentIDs != nil {
		r.DocumentIDs = e.DocumentIDs
	}
	if e.AppointmentID != nil {
		r.AppointmentID = *e.AppointmentID
	}
	r.UpdatedAt = now
}

// CanSubmit checks DRAFT → SUBMITTED. missing lists required document types
// not yet attached.
func (r *ServiceRequest) CanSubmit(missing []id.DocumentType) error {
	if r.Status != StatusDraft {
		return dErrors.New(dErrors.CodeInvariantViolation, "only a draft request can be submitted")
	}
	return requireDocuments(missing)
}

// ApplySubmit stamps SubmittedAt.
func (r *ServiceRequest) ApplySubmit(now time.Time) {
	r.move(StatusSubmitted, now)
	r.SubmittedAt = &now
}

// CanResubmit checks the ADDITIONAL_INFO_NEEDED → SUBMITTED loop.
func (r *ServiceRequest) CanResubmit(missing []id.DocumentType) error {
	if r.Status != StatusAdditionalInfoNeeded {
		return dErrors.New(dErrors.CodeInvariantViolation, "request is not waiting for additional information")
	}
	return requireDocuments(missing)
}

// ApplyResubmit re-stamps SubmittedAt.
func (r *ServiceRequest) ApplyResubmit(now time.Time) {
	r.ApplySubmit(now)
}

func requireDocuments(missing []id.DocumentType) error {
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = string(m)
	}
	return dErrors.New(dErrors.CodeInvariantViolation, "missing required documents: "+strings.Join(names, ", "))
}

func (r *ServiceRequest) CanStartReview() error {
	return r.canMove(StatusInReview)
}

func (r *ServiceRequest) ApplyStartReview(reviewer id.UserID, now time.Time) {
	r.move(StatusInReview, now)
	if r.AssignedAgentID.IsNil() {
		r.AssignedAgentID = reviewer
	}
}

// CanReview checks SUBMITTED/IN_REVIEW → APPROVED | REJECTED | ADDITIONAL_INFO_NEEDED.
func (r *ServiceRequest) CanReview(outcome Status) error {
	if !slices.Contains(reviewOutcomes, outcome) {
		return dErrors.New(dErrors.CodeValidation, "review status must be APPROVED, REJECTED or ADDITIONAL_INFO_NEEDED")
	}
	return r.canMove(outcome)
}

// ApplyReview stamps the reviewer and replaces the note.
func (r *ServiceRequest) ApplyReview(outcome Status, reviewer id.UserID, note string, now time.Time) {
	r.move(outcome, now)
	r.ReviewNote = note
	r.ReviewedAt = &now
	r.ReviewedBy = reviewer
}

func (r *ServiceRequest) CanComplete() error {
	return r.canMove(StatusCompleted)
}

func (r *ServiceRequest) ApplyComplete(now time.Time) {
	r.move(StatusCompleted, now)
	r.CompletedAt = &now
}

// CanDelete allows deletion by the owner while DRAFT only. Other callers see
// not_found.
func (r *ServiceRequest) CanDelete(actor id.UserID) error {
	if r.UserID != actor {
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	if r.Status != StatusDraft {
		return dErrors.New(dErrors.CodeInvariantViolation, "only a draft request can be deleted")
	}
	return nil
}

// CanAssign rejects assignment on closed requests.
func (r *ServiceRequest) CanAssign() error {
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot assign an agent to a closed request")
	}
	return nil
}

func (r *ServiceRequest) ApplyAssign(agent id.UserID, now time.Time) {
	r.AssignedAgentID = agent
	r.UpdatedAt = now
}

// AttachedDocumentIDs returns a copy of DocumentIDs.
func (r *ServiceRequest) AttachedDocumentIDs() []id.DocumentID {
	return slices.Clone(r.DocumentIDs)
}

// Clone returns a copy that shares no mutable state with r.
func (r *ServiceRequest) Clone() *ServiceRequest {
	c := *r
	c.DocumentIDs = slices.Clone(r.DocumentIDs)
	c.FormData = maps.Clone(r.FormData)
	c.SubmittedAt = copyTime(r.SubmittedAt)
	c.ReviewedAt = copyTime(r.ReviewedAt)
	c.CompletedAt = copyTime(r.CompletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListFilter narrows listings. Zero values match everything.
type ListFilter struct {
	UserID          id.UserID
	OrganizationID  id.OrganizationID
	AssignedAgentID id.UserID
	ServiceID       id.ServiceID
	DocumentID      id.DocumentID
	Status          Status
	Limit           int
	Offset          int
}

// StatusCounts maps each status to the number of requests holding it.
type StatusCounts map[Status]int

// MissingFields returns the names in required that have no value in FormData.
func (r *ServiceRequest) MissingFields(required []string) []string {
	var missing []string
	for _, name := range required {
		v, ok := r.FormData[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
