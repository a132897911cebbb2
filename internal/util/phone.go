package util

import "strings"

// NormalizePhone strips whitespace from an E.164 number.
// TODO - may use libphonenumber once non-NANP tenants onboard
func NormalizePhone(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), " ", "")
}

// AreaCode returns the three-digit NANP area code of an E.164 number
// ("+15551234567" -> "555"), or "" when the number is too short or not +1.
func AreaCode(p string) string {
	p = NormalizePhone(p)
	if !strings.HasPrefix(p, "+1") || len(p) < 5 {
		return ""
	}
	return p[2:5]
}
