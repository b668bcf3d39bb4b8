// Package models holds uploaded citizen documents and their validation state.
package models

import (
	"maps"
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
	StatusRejected  Status = "REJECTED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusRejected:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown document status: "+s)
	}
	return st, nil
}

// Metadata keys written by validation.
const (
	MetaValidatedBy = "validatedBy"
	MetaValidatedAt = "validatedAt"
	MetaNote        = "note"
)

type Document struct {
	ID          id.DocumentID     `json:"id"`
	UserID      id.UserID         `json:"user_id"`
	RequestID   id.RequestID      `json:"request_id,omitzero"`
	Type        id.DocumentType   `json:"type"`
	FileName    string            `json:"file_name"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	Checksum    string            `json:"checksum"`
	StorageKey  string            `json:"-"`
	Status      Status            `json:"status"`
	Metadata    map[string]string `json:"metadata"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// File is the stored object backing a new document.
type File struct {
	Name        string
	ContentType string
	Key         string
	Size        int64
	Checksum    string
}

func NewDocument(docID id.DocumentID, owner id.UserID, requestID id.RequestID, docType id.DocumentType, f File, now time.Time) *Document {
	return &Document{
		ID:          docID,
		UserID:      owner,
		RequestID:   requestID,
		Type:        docType,
		FileName:    f.Name,
		ContentType: f.ContentType,
		SizeBytes:   f.Size,
		Checksum:    f.Checksum,
		StorageKey:  f.Key,
		Status:      StatusPending,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// Usable reports whether the document still counts toward a request's
// required documents.
func (d *Document) Usable() bool {
	return !d.IsDeleted() && d.Status != StatusRejected
}

// CanValidate accepts VALIDATED or REJECTED on a live document. A document
// may be validated again; the latest decision wins.
func (d *Document) CanValidate(target Status) error {
	if d.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "document has been deleted")
	}
	if target != StatusValidated && target != StatusRejected {
		return dErrors.New(dErrors.CodeValidation, "status must be VALIDATED or REJECTED")
	}
	return nil
}

// ApplyValidation sets the status and replaces the metadata with the
// validator, an RFC 3339 timestamp and the note.
func (d *Document) ApplyValidation(target Status, validator id.UserID, note string, now time.Time) {
	d.Status = target
	d.Metadata = map[string]string{
		MetaValidatedBy: validator.String(),
		MetaValidatedAt: now.UTC().Format(time.RFC3339),
		MetaNote:        note,
	}
	d.UpdatedAt = now
}

func (d *Document) CanDelete(actor id.UserID) error {
	if d.UserID != actor {
		return dErrors.New(dErrors.CodeForbidden, "only the owner can delete this document")
	}
	if d.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "document is already deleted")
	}
	return nil
}

func (d *Document) ApplyDeletion(now time.Time) {
	d.DeletedAt = &now
	d.UpdatedAt = now
}

func (d *Document) Clone() *Document {
	c := *d
	c.Metadata = maps.Clone(d.Metadata)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// ListFilter selects live documents. Zero fields do not filter.
type ListFilter struct {
	UserID    id.UserID
	RequestID id.RequestID
	Status    Status
	Limit     int
	Offset    int
}
