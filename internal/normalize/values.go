package normalize

import (
	"regexp"
	"strings"
)

var (
	postalPattern = regexp.MustCompile(`(\d{3})-?(\d{4})`)
	phonePattern  = regexp.MustCompile(`0\d{1,4}-\d{1,4}-\d{3,4}`)
	phoneDigits   = regexp.MustCompile(`^0\d{9,10}$`)
	dashReplacer  = strings.NewReplacer("―", "-", "ー", "-", "－", "-")
)

// NormalizePostalCode renders a seven digit postal code as NNN-NNNN. Other input is returned trimmed.
func NormalizePostalCode(s string) string {
	s = strings.TrimSpace(s)
	m := postalPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return m[1] + "-" + m[2]
}

// NormalizePhone extracts a hyphenated domestic number, or a bare 10-11 digit
// number when no hyphenated form is present. Other input is returned trimmed.
func NormalizePhone(s string) string {
	s = dashReplacer.Replace(strings.TrimSpace(s))
	if m := phonePattern.FindString(s); m != "" {
		return m
	}
	if d := DigitsOnly(s); phoneDigits.MatchString(d) {
		return d
	}
	return s
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
