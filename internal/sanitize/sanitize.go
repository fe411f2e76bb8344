// Package sanitize normalizes untrusted filenames and object-key
// segments before they reach the object store. Output never contains
// path separators or traversal sequences.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxLength = 255

// Filename sanitizes an attachment filename with a strict whitelist.
// Characters outside [A-Za-z0-9._-] become underscores, ".." collapses
// to "_", leading and trailing dots are trimmed, and the result is
// capped at 255 characters. An empty result is replaced with a
// generated "file_<uuid>" name.
func Filename(name string) string {
	cleaned := whitelist(name, func(r rune) bool {
		return isAlnum(r) || r == '.' || r == '_' || r == '-'
	})

	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", "_")
	}
	cleaned = strings.Trim(cleaned, ".")

	if len(cleaned) > maxLength {
		cleaned = cleaned[:maxLength]
		cleaned = strings.Trim(cleaned, ".")
	}
	if cleaned == "" {
		return fmt.Sprintf("file_%s", uuid.NewString())
	}
	return cleaned
}

// PathComponent sanitizes a single object-key segment, such as a
// message-id. Slightly wider whitelist than Filename ('@' allowed, for
// message-ids), same traversal and length rules.
func PathComponent(s string) string {
	cleaned := whitelist(s, func(r rune) bool {
		return isAlnum(r) || r == '.' || r == '_' || r == '-' || r == '@'
	})

	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", "_")
	}
	cleaned = strings.Trim(cleaned, ".")

	if len(cleaned) > maxLength {
		cleaned = cleaned[:maxLength]
		cleaned = strings.Trim(cleaned, ".")
	}
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// UniqueName disambiguates a sanitized filename within a batch by
// appending "-<index>" before the extension. Index 0 returns the name
// unchanged.
func UniqueName(name string, index int) string {
	if index == 0 {
		return name
	}
	if dot := strings.LastIndex(name, "."); dot > 0 {
		return fmt.Sprintf("%s-%d%s", name[:dot], index, name[dot:])
	}
	return fmt.Sprintf("%s-%d", name, index)
}

func whitelist(s string, allowed func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if allowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
