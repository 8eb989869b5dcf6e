package policy

import (
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Phones need an international prefix, an area code in parentheses or the
	// 3-3-4 grouping, so year ranges and amounts in reports stay intact.
	phonePattern = regexp.MustCompile(`\+\d[\d()\-\s.]{7,}\d|\(\d{2,4}\)\s?\d{3,5}[\s.\-]?\d{4}|\b\d{3}[.\-]\d{3}[.\-]\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)
)

// MaskPIIString redacts emails, phone numbers and card numbers.
func MaskPIIString(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 13 {
		return value
	}

	last4 := string(digits[len(digits)-4:])
	return "**** **** **** " + last4
}
