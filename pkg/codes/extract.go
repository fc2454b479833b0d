package codes

import "regexp"

// Verification codes are six digits, delivered inside free-form message
// text.
var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// ExtractCode pulls the first six-digit code out of text, or returns ""
// when none is present.
func ExtractCode(text string) string {
	match := codePattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return match[1]
}
