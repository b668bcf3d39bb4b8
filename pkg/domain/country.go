package domain

import (
	"strings"

	dErrors "consular/pkg/domain-errors"
	strutil "consular/pkg/platform/strings"
)

// CountryCode is an ISO 3166-1 alpha-2 code, always stored upper-case.
type CountryCode string

// ParseCountryCode normalizes and validates a two-letter country code.
func ParseCountryCode(s string) (CountryCode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "country code must be two letters")
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "country code must be two letters")
		}
	}
	return CountryCode(s), nil
}

// ParseCountryCodes parses a list, dropping blanks and duplicates while
// keeping order.
func ParseCountryCodes(values []string) ([]CountryCode, error) {
	normalized := strutil.DedupeUpper(values)
	out := make([]CountryCode, 0, len(normalized))
	for _, v := range normalized {
		code, err := ParseCountryCode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

func (c CountryCode) String() string { return string(c) }
