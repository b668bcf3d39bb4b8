package models

import (
	"mime"
	"path/filepath"
	"strings"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

const maxNoteLength = 2000

// UploadRequest carries the form fields that accompany an uploaded file.
type UploadRequest struct {
	Type        string
	RequestID   string
	FileName    string
	ContentType string

	docType   id.DocumentType
	requestID id.RequestID
}

var allowedContentTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
}

func (r *UploadRequest) Validate() error {
	t, err := id.ParseDocumentType(r.Type)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "type is required")
	}
	r.FileName = strings.TrimSpace(filepath.Base(r.FileName))
	if r.FileName == "" || r.FileName == "." || r.FileName == string(filepath.Separator) {
		return dErrors.New(dErrors.CodeValidation, "file name is required")
	}
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(r.FileName)))
		mediaType, _, _ = strings.Cut(mediaType, ";")
	}
	if _, ok := allowedContentTypes[mediaType]; !ok {
		return dErrors.New(dErrors.CodeValidation, "file must be a PDF, JPEG, PNG or WebP")
	}
	r.ContentType = mediaType
	if raw := strings.TrimSpace(r.RequestID); raw != "" {
		requestID, err := id.ParseRequestID(raw)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "request_id is invalid")
		}
		r.requestID = requestID
	}
	r.docType = t
	return nil
}

func (r *UploadRequest) ParsedType() id.DocumentType { return r.docType }

func (r *UploadRequest) ParsedRequestID() id.RequestID { return r.requestID }

type ValidateRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`

	target Status
}

func (r *ValidateRequest) Validate() error {
	st, err := ParseStatus(r.Status)
	if err != nil || st == StatusPending {
		return dErrors.New(dErrors.CodeValidation, "status must be VALIDATED or REJECTED")
	}
	r.Note = strings.TrimSpace(r.Note)
	if len(r.Note) > maxNoteLength {
		return dErrors.New(dErrors.CodeValidation, "note must be 2000 characters or less")
	}
	r.target = st
	return nil
}

func (r *ValidateRequest) Target() Status { return r.target }
