// Package strings normalizes user-supplied code lists.
package strings

import (
	"strings"
)

// DedupeUpper trims and upper-cases each value, dropping empty entries and
// duplicates. Order of first occurrence is preserved.
//
// Example:
//
//	DedupeUpper([]string{" fr", "GA", "Fr", ""})
//	// Returns: []string{"FR", "GA"}
func DedupeUpper(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		normalized := strings.ToUpper(strings.TrimSpace(v))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}
