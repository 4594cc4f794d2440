package common

import "strings"

// ToLowerWithTrim normalizes user-provided configuration strings.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
