package util

import (
	"regexp"
	"strings"
)

var nonPhone = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone normalizes user/carrier input into E.164-like format.
// Bare 10-digit numbers are assumed to be NANP.
func NormalizePhone(raw string) string {
	s := nonPhone.ReplaceAllString(strings.TrimSpace(raw), "")

	switch {
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case len(s) == 10 && !strings.HasPrefix(s, "+"):
		s = "+1" + s
	case len(s) == 11 && strings.HasPrefix(s, "1"):
		s = "+" + s
	}

	return s
}
