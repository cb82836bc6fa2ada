package validator

import (
	"path/filepath"
	"strings"
)

// DefaultContentType is assumed when the client declares no usable type.
const DefaultContentType = "application/octet-stream"

// maxFilenameLength matches the files.original_filename column width.
const maxFilenameLength = 255

// SanitizeFilename strips any path components from a client-supplied filename
// and truncates it to the storable length. Returns "" for names that carry no
// usable filename at all.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	// Clients may send full paths; only the base name is meaningful.
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			return name[:maxFilenameLength]
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	return name
}

// NormalizeContentType lowercases a declared content type and strips any
// parameters (e.g. "Text/Plain; charset=utf-8" -> "text/plain"). Falls back
// to DefaultContentType for empty or malformed declarations.
func NormalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if idx := strings.IndexByte(contentType, ';'); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	contentType = strings.ToLower(contentType)
	if contentType == "" || !strings.Contains(contentType, "/") {
		return DefaultContentType
	}

	return contentType
}

// ValidSizeLimit reports whether a declared size fits within the limit.
// A limit of zero means unlimited.
func ValidSizeLimit(size, limit int64) bool {
	if limit <= 0 {
		return true
	}
	return size <= limit
}
