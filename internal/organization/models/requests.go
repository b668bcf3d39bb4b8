package models

import (
	"strings"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

type CreateOrganizationRequest struct {
	Name      string   `json:"name"`
	Countries []string `json:"countries"`

	parsed []id.CountryCode
}

func (r *CreateOrganizationRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(r.Name) > 128 {
		return dErrors.New(dErrors.CodeValidation, "name must be 128 characters or less")
	}
	codes, err := id.ParseCountryCodes(r.Countries)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	r.parsed = codes
	return nil
}

func (r *CreateOrganizationRequest) ParsedCountries() []id.CountryCode { return r.parsed }

type UpdateCountriesRequest struct {
	Countries []string `json:"countries"`

	parsed []id.CountryCode
}

func (r *UpdateCountriesRequest) Validate() error {
	codes, err := id.ParseCountryCodes(r.Countries)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	r.parsed = codes
	return nil
}

func (r *UpdateCountriesRequest) ParsedCountries() []id.CountryCode { return r.parsed }
