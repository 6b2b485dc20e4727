package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	phoneRegex      = regexp.MustCompile(`^\+?[0-9]{3,20}$`)
)

// CollapseSpace trims s and folds internal runs of whitespace into one space.
func CollapseSpace(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormalizePhone strips separators commonly typed into phone numbers.
// It returns the input unchanged when the result is not a plausible number,
// so validation can report it.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return s
		}
	}

	out := b.String()
	if !phoneRegex.MatchString(out) {
		return s
	}
	return out
}

// EscapeLike escapes the LIKE metacharacters in a user supplied prefix.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
