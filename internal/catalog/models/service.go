// Package models holds the consular service catalog types.
package models

import (
	"strings"
	"time"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type Category string

const (
	CategoryPassport     Category = "PASSPORT"
	CategoryCivilStatus  Category = "CIVIL_STATUS"
	CategoryVisa         Category = "VISA"
	CategoryRegistration Category = "REGISTRATION"
	CategoryOther        Category = "OTHER"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryPassport, CategoryCivilStatus, CategoryVisa, CategoryRegistration, CategoryOther:
		return true
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown service category: "+s)
	}
	return c, nil
}

// Field is one input of a form step.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Label    string `json:"label" yaml:"label"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required"`
}

// Step is one page of the request form a citizen fills in.
type Step struct {
	Key    string  `json:"key" yaml:"key"`
	Title  string  `json:"title" yaml:"title"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Service is a consular service template owned by an organization.
type Service struct {
	ID                id.ServiceID      `json:"id"`
	OrganizationID    id.OrganizationID `json:"organization_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Category          Category          `json:"category"`
	Steps             []Step            `json:"steps"`
	RequiredDocuments []id.DocumentType `json:"required_documents"`
	Active            bool              `json:"active"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// MissingDocuments lists the required document types absent from attached.
func (s *Service) MissingDocuments(attached []id.DocumentType) []id.DocumentType {
	have := make(map[id.DocumentType]struct{}, len(attached))
	for _, t := range attached {
		have[t] = struct{}{}
	}
	var missing []id.DocumentType
	for _, t := range s.RequiredDocuments {
		if _, ok := have[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// RequiredFields returns the names of required form fields across all steps.
func (s *Service) RequiredFields() []string {
	var out []string
	for _, step := range s.Steps {
		for _, f := range step.Fields {
			if f.Required {
				out = append(out, f.Name)
			}
		}
	}
	return out
}

func (s *Service) CanDeactivate() error {
	if !s.Active {
		return dErrors.New(dErrors.CodeInvariantViolation, "service is already inactive")
	}
	return nil
}

func (s *Service) ApplyDeactivation(now time.Time) {
	s.Active = false
	s.UpdatedAt = now
}
