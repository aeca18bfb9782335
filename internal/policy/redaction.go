// Package policy holds the rules for what caller content may appear in logs.
package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not reported as phone numbers.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks e-mail addresses, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogPreview returns caller text in a form safe to log: PII masked, line
// breaks flattened and cut to at most maxRunes runes.
func LogPreview(text string, maxRunes int) string {
	out, _ := RedactPII(text)
	out = strings.Join(strings.Fields(out), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxRunes]) + "…"
}
