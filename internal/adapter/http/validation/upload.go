// Package validation checks client-supplied upload metadata before it reaches
// object storage.
package validation

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var ErrDisallowedFileType = errors.New("file type not allowed")

const maxFilenameLength = 255

// Browsers report application/octet-stream for containers they do not know.
var allowedVideoTypes = map[string]bool{
	"video/mp4":                true,
	"video/webm":               true,
	"video/quicktime":          true,
	"video/x-matroska":         true,
	"video/x-msvideo":          true,
	"video/mpeg":               true,
	"application/octet-stream": true,
}

// VideoContentType normalizes a declared content type and checks it against
// the allowlist. An empty value is treated as application/octet-stream.
func VideoContentType(declared string) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return "application/octet-stream", nil
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", ErrDisallowedFileType
	}
	mediaType = strings.ToLower(mediaType)
	if !allowedVideoTypes[mediaType] {
		return "", ErrDisallowedFileType
	}
	return mediaType, nil
}

var dangerousChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
}

// SanitizeFilename replaces path separators, quotes and control characters
// with underscores and bounds the length, keeping the extension.
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || dangerousChars[r] {
			sb.WriteRune('_')
			continue
		}
		sb.WriteRune(r)
	}

	result := strings.TrimSpace(sb.String())
	if strings.Trim(result, "_") == "" {
		return "video"
	}
	if len(result) <= maxFilenameLength {
		return result
	}

	ext := filepath.Ext(result)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateToBytes(result, maxFilenameLength)
	}
	base := result[:len(result)-len(ext)]
	return truncateToBytes(base, maxFilenameLength-len(ext)) + ext
}

// truncateToBytes never splits a multi-byte rune.
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
