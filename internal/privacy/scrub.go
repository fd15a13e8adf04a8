// Package privacy masks personal data before it reaches log output.
package privacy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// ScrubPII masks emails, phone numbers, and card numbers in text bound
// for logs. Conversation history keeps the original text; only log
// lines pass through here.
func ScrubPII(input string) (scrubbed string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones, so a card number is not half-matched as a phone.
	next = cardPattern.ReplaceAllString(out, "[CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}
