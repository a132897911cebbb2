package util

import "strings"

// RenderTemplate substitutes {var} placeholders. Unknown placeholders are left
// in place so a bad variable map is visible in the audit record, not silent.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
