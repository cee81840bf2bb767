package document

import (
	"path/filepath"
	"strings"
)

// MaxFileSize matches the backend's hard upload limit
const MaxFileSize = 10 * 1024 * 1024

// SupportedExtensions lists what the ingest endpoint accepts. Text formats are
// normalised to UTF-8 before upload; PDFs are sent as-is.
var SupportedExtensions = map[string]bool{
	".pdf": false,
	".txt": true,
	".md":  true,
}

// IsSupported reports whether the backend will accept a file with this name
func IsSupported(filename string) bool {
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// IsText reports whether the file is a text format that gets re-encoded
func IsText(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}
