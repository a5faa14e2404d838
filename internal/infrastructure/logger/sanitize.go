package logger

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxLogValue bounds a single user-supplied value in a log line.
const maxLogValue = 512

// SanitizeForLog escapes control characters so user-supplied text (worker
// errors, step names, object keys) cannot forge log lines or drive the
// terminal, and truncates it to maxLogValue runes. Printable Unicode is kept.
func SanitizeForLog(s string) string {
	truncated := false
	if utf8.RuneCountInString(s) > maxLogValue {
		s = string([]rune(s)[:maxLogValue])
		truncated = true
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\n':
			result.WriteString("\\n")
		case '\r':
			result.WriteString("\\r")
		case '\t':
			result.WriteString("\\t")
		default:
			if r < 32 || r == 127 {
				result.WriteString(fmt.Sprintf("\\x%02x", r))
			} else {
				result.WriteRune(r)
			}
		}
	}

	if truncated {
		result.WriteString("...")
	}
	return result.String()
}
