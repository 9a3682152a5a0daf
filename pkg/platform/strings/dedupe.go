// Package strings provides string helpers shared by the audit packages.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element and drops empties and repeats, keeping the
// first occurrence. Field names are case-sensitive, so "Area" and "area" both
// survive.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
