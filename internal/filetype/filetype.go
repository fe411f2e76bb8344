// Package filetype validates attachment content against a whitelist of
// known formats. Identification is by extension plus magic-byte prefix;
// a separate blocklist rejects executable formats regardless of content.
package filetype

import (
	"strings"

	"github.com/ignite/mailflow/internal/errs"
)

type entry struct {
	contentType string
	extension   string
	magic       []byte // empty for the text family
}

var whitelist = []entry{
	{"image/jpeg", "jpg", []byte{0xFF, 0xD8, 0xFF}},
	{"image/jpeg", "jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"image/png", "png", []byte{0x89, 0x50, 0x4E, 0x47}},
	{"image/gif", "gif", []byte{0x47, 0x49, 0x46, 0x38}},
	{"image/webp", "webp", []byte("RIFF")},
	{"image/bmp", "bmp", []byte{0x42, 0x4D}},
	{"image/tiff", "tiff", []byte{0x49, 0x49, 0x2A, 0x00}},
	{"image/tiff", "tif", []byte{0x49, 0x49, 0x2A, 0x00}},
	{"application/pdf", "pdf", []byte("%PDF")},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"application/vnd.openxmlformats-officedocument.presentationml.presentation", "pptx", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"application/zip", "zip", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"application/gzip", "gz", []byte{0x1F, 0x8B}},
	{"text/plain", "txt", nil},
	{"text/csv", "csv", nil},
	{"text/html", "html", nil},
	{"text/html", "htm", nil},
	{"text/xml", "xml", nil},
	{"application/json", "json", nil},
	{"text/markdown", "md", nil},
}

var blocklist = map[string]bool{
	"exe": true, "bat": true, "cmd": true, "com": true, "pif": true,
	"scr": true, "vbs": true, "js": true, "jar": true, "msi": true,
	"app": true, "deb": true, "rpm": true, "dmg": true, "pkg": true,
	"sh": true, "bash": true, "ps1": true, "dll": true, "so": true,
	"dylib": true, "sys": true, "ocx": true,
}

// Extension returns the lowercased substring after the last dot, or ""
// when the filename has no extension.
func Extension(filename string) string {
	dot := strings.LastIndex(filename, ".")
	if dot < 0 || dot == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[dot+1:])
}

// Validate checks a filename and its content against the whitelist.
// It returns the content-type of the whitelist entry that accepted the
// file, or a Validation error naming the reason for rejection.
func Validate(filename string, data []byte) (string, error) {
	ext := Extension(filename)
	if ext == "" {
		return "", errs.New(errs.Validation, "attachment %q has no extension", filename)
	}
	if blocklist[ext] {
		return "", errs.New(errs.Validation, "attachment %q has blocked extension .%s", filename, ext)
	}

	matched := false
	for _, e := range whitelist {
		if e.extension != ext {
			continue
		}
		matched = true
		if len(e.magic) == 0 {
			// Text family carries no reliable signature
			return e.contentType, nil
		}
		if hasPrefix(data, e.magic) {
			return e.contentType, nil
		}
	}
	if !matched {
		return "", errs.New(errs.Validation, "attachment %q has unsupported extension .%s", filename, ext)
	}
	return "", errs.New(errs.Validation, "attachment %q content magic bytes don't match extension .%s", filename, ext)
}

func hasPrefix(data, magic []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i := range magic {
		if data[i] != magic[i] {
			return false
		}
	}
	return true
}
