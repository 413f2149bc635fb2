// Package phone normalizes caller numbers into cache lookup keys.
package phone

import "strings"

// MinDigits is the shortest normalized number treated as a real phone number.
const MinDigits = 10

// Normalize strips every character that is not an ASCII digit.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDialable reports whether a normalized number is long enough to cache.
func IsDialable(normalized string) bool {
	return len(normalized) >= MinDigits
}

// IsExtension reports whether the raw caller value is a 4-digit internal extension.
func IsExtension(raw string) bool {
	if len(raw) != 4 {
		return false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
