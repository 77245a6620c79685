package utils

import (
	"strings"
	"unicode"
)

// MakeSlug derives a URL-safe slug from a title. Non-alphanumeric runs
// collapse to single hyphens; non-Latin titles that produce an empty
// slug fall back to the provided id.
func MakeSlug(title, fallback string) string {
	var b strings.Builder
	prevHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return fallback
	}
	return s
}
