package connectwise

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxIdentifierLen   = 30
	fallbackIdentifier = "TempCo"
)

// CompanyIdentifier derives a ConnectWise company identifier from a name:
// accents are folded, everything but ASCII letters and digits is dropped and
// the result is cut to 30 characters. Names with nothing usable yield "TempCo".
func CompanyIdentifier(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		if b.Len() == maxIdentifierLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallbackIdentifier
	}
	return b.String()
}

// quote escapes a value for use inside a single-quoted conditions literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
