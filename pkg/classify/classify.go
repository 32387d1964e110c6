// Package classify infers the content type and transport encoding of an
// uploaded file from its name, so objects are served correctly over HTTP.
package classify

import (
	"path/filepath"
	"strings"
)

const (
	// EncodingGzip is the Content-Encoding for gzip-compressed files.
	EncodingGzip = "gzip"

	// TypeTextPlain is the Content-Type for plain text logs and configs.
	TypeTextPlain = "text/plain"

	// TypeTextHTML is the Content-Type for HTML documents.
	TypeTextHTML = "text/html"
)

// Icon names under /apaxy/icons/ used by the index pages.
const (
	IconText   = "text.png"
	IconHTML   = "html.png"
	IconBlank  = "blank.png"
	IconFolder = "folder.png"
)

// plainTextExtensions are served as text/plain.
var plainTextExtensions = map[string]struct{}{
	"txt":  {},
	"log":  {},
	"conf": {},
	"sh":   {},
}

// plainTextBasenames covers extensionless rotated logs such as
// messages.1.gz or SMlog.1.gz.
var plainTextBasenames = map[string]struct{}{
	"messages": {},
	"smlog":    {},
}

// Encoding returns the Content-Encoding for name, or "" when none applies.
func Encoding(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return EncodingGzip
	}

	return ""
}

// ContentType returns the Content-Type for name, or "" when the type is
// unknown and the object should be uploaded without a type hint.
func ContentType(name string) string {
	parts := strings.Split(strings.ToLower(baseName(name)), ".")

	if parts[len(parts)-1] == "gz" {
		parts = parts[:len(parts)-1]
	}

	if len(parts) > 0 && isRotationSuffix(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}

	if len(parts) == 0 {
		return ""
	}

	if _, ok := plainTextExtensions[parts[len(parts)-1]]; ok {
		return TypeTextPlain
	}

	if _, ok := plainTextBasenames[parts[0]]; ok {
		return TypeTextPlain
	}

	if parts[len(parts)-1] == "html" {
		return TypeTextHTML
	}

	return ""
}

// Icon returns the index icon for a file name.
func Icon(name string) string {
	return IconForType(ContentType(name))
}

// IconForType returns the index icon for an already classified Content-Type.
func IconForType(contentType string) string {
	switch contentType {
	case TypeTextPlain:
		return IconText
	case TypeTextHTML:
		return IconHTML
	default:
		return IconBlank
	}
}

// baseName returns the final segment of name. Both separators are accepted
// since names may be object keys as well as host paths.
func baseName(name string) string {
	name = filepath.ToSlash(name)

	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}

	return name
}

// isRotationSuffix reports whether s consists only of digits and hyphens,
// e.g. the ".1" or ".2024-01-01" of a rotated log. The empty string counts.
func isRotationSuffix(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}

	return true
}
