package logger

import (
	"fmt"
	"strings"
)

// RedactEmail masks the local part of an email address for safe logging.
// "john.doe@example.com" → "***@example.com"
// Strings without exactly one "@" are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return "***@***"
	}
	return "***@" + parts[1]
}

// RedactSubject truncates a subject line for safe logging.
// Subjects longer than 6 characters keep their first 3 characters
// followed by the total length; shorter subjects are fully masked.
func RedactSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) > 6 {
		return fmt.Sprintf("%s...[%d chars]", string(runes[:3]), len(runes))
	}
	return "[redacted]"
}

// RedactAll replaces every email-like token in s with its redacted form.
// Used for error strings headed to the DLQ.
func RedactAll(s string) string {
	return emailRegex.ReplaceAllStringFunc(s, RedactEmail)
}
