package models

import (
	"strings"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

const maxDocuments = 50

type CreateRequest struct {
	ServiceID   string         `json:"service_id"`
	FormData    map[string]any `json:"form_data"`
	DocumentIDs []string       `json:"document_ids"`

	serviceID id.ServiceID
	docs      []id.DocumentID
}

func (r *CreateRequest) Validate() error {
	serviceID, err := id.ParseServiceID(r.ServiceID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "service_id is required")
	}
	docs, err := parseDocumentIDs(r.DocumentIDs)
	if err != nil {
		return err
	}
	r.serviceID = serviceID
	r.docs = docs
	return nil
}

func (r *CreateRequest) ParsedServiceID() id.ServiceID { return r.serviceID }

func (r *CreateRequest) ParsedDocuments() []id.DocumentID { return r.docs }

// UpdateRequest edits a draft. Omitted fields are left unchanged; an empty
// appointment_id clears the link.
type UpdateRequest struct {
	FormData      map[string]any `json:"form_data"`
	DocumentIDs   *[]string      `json:"document_ids"`
	AppointmentID *string        `json:"appointment_id"`

	edit Edit
}

func (r *UpdateRequest) Validate() error {
	e := Edit{FormData: r.FormData}
	if r.DocumentIDs != nil {
		docs, err := parseDocumentIDs(*r.DocumentIDs)
		if err != nil {
			return err
		}
		if docs == nil {
			docs = []id.DocumentID{}
		}
		e.DocumentIDs = docs
	}
	if r.AppointmentID != nil {
		var appt id.AppointmentID
		if strings.TrimSpace(*r.AppointmentID) != "" {
			parsed, err := id.ParseAppointmentID(*r.AppointmentID)
			if err != nil {
				return dErrors.New(dErrors.CodeValidation, "appointment_id is invalid")
			}
			appt = parsed
		}
		e.AppointmentID = &appt
	}
	r.edit = e
	return nil
}

// Edit returns the parsed changes. Call Validate first.
func (r *UpdateRequest) Edit() Edit { return r.edit }

type ReviewRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`

	outcome Status
}

func (r *ReviewRequest) Validate() error {
	outcome, err := ParseReviewOutcome(r.Status)
	if err != nil {
		return err
	}
	r.Note = strings.TrimSpace(r.Note)
	if len(r.Note) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "note must be 2000 characters or less")
	}
	if outcome == StatusAdditionalInfoNeeded && r.Note == "" {
		return dErrors.New(dErrors.CodeValidation, "a note is required when asking for additional information")
	}
	r.outcome = outcome
	return nil
}

func (r *ReviewRequest) Outcome() Status { return r.outcome }

type AssignRequest struct {
	AgentID string `json:"agent_id"`

	agent id.UserID
}

func (r *AssignRequest) Validate() error {
	agent, err := id.ParseUserID(r.AgentID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "agent_id is required")
	}
	r.agent = agent
	return nil
}

func (r *AssignRequest) Agent() id.UserID { return r.agent }

func parseDocumentIDs(values []string) ([]id.DocumentID, error) {
	if len(values) > maxDocuments {
		return nil, dErrors.New(dErrors.CodeValidation, "too many documents attached")
	}
	var out []id.DocumentID
	seen := make(map[id.DocumentID]struct{}, len(values))
	for _, v := range values {
		docID, err := id.ParseDocumentID(v)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "document_ids contains an invalid id")
		}
		if _, dup := seen[docID]; dup {
			continue
		}
		seen[docID] = struct{}{}
		out = append(out, docID)
	}
	return out, nil
}
