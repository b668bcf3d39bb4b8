package models

import (
	"fmt"
	"strings"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type CreateServiceRequest struct {
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description" yaml:"description"`
	Category          string   `json:"category" yaml:"category"`
	Steps             []Step   `json:"steps" yaml:"steps"`
	RequiredDocuments []string `json:"required_documents" yaml:"required_documents"`

	category Category
	docs     []id.DocumentType
}

func (r *CreateServiceRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(r.Name) > 200 {
		return dErrors.New(dErrors.CodeValidation, "name must be 200 characters or less")
	}
	c, err := ParseCategory(r.Category)
	if err != nil {
		return err
	}
	if err := validateSteps(r.Steps); err != nil {
		return err
	}
	docs, err := id.ParseDocumentTypes(r.RequiredDocuments)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	r.category = c
	r.docs = docs
	return nil
}

func (r *CreateServiceRequest) ParsedCategory() Category { return r.category }

func (r *CreateServiceRequest) ParsedDocuments() []id.DocumentType { return r.docs }

// UpdateServiceRequest replaces only the provided fields.
type UpdateServiceRequest struct {
	Name              *string  `json:"name,omitempty"`
	Description       *string  `json:"description,omitempty"`
	Steps             []Step   `json:"steps,omitempty"`
	RequiredDocuments []string `json:"required_documents,omitempty"`

	docs []id.DocumentType
}

func (r *UpdateServiceRequest) Validate() error {
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
		}
		r.Name = &n
	}
	if r.Steps != nil {
		if err := validateSteps(r.Steps); err != nil {
			return err
		}
	}
	if r.RequiredDocuments != nil {
		docs, err := id.ParseDocumentTypes(r.RequiredDocuments)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		r.docs = docs
	}
	return nil
}

// Apply copies the provided fields onto s.
func (r *UpdateServiceRequest) Apply(s *Service) {
	if r.Name != nil {
		s.Name = *r.Name
	}
	if r.Description != nil {
		s.Description = *r.Description
	}
	if r.Steps != nil {
		s.Steps = r.Steps
	}
	if r.RequiredDocuments != nil {
		s.RequiredDocuments = r.docs
	}
}

func validateSteps(steps []Step) error {
	keys := make(map[string]struct{}, len(steps))
	for i, st := range steps {
		if strings.TrimSpace(st.Key) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("step %d: key is required", i+1))
		}
		if _, dup := keys[st.Key]; dup {
			return dErrors.New(dErrors.CodeValidation, "duplicate step key: "+st.Key)
		}
		keys[st.Key] = struct{}{}
		for _, f := range st.Fields {
			if strings.TrimSpace(f.Name) == "" {
				return dErrors.New(dErrors.CodeValidation, "step "+st.Key+": field name is required")
			}
		}
	}
	return nil
}
