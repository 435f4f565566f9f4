package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Rules run in order: cards before phones so long digit runs are not
// classified as phone numbers, plates last.
var transcriptRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`(?i)\b[a-z]{2}[ -]?\d{1,2}[ -]?[a-z]{1,3}[ -]?\d{4}\b`), "[REDACTED_PLATE]"},
}

// RedactPII masks contact details, card numbers and registration plates in a
// transcript before it is stored.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range transcriptRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
