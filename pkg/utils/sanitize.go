package utils

import (
	"regexp"
	"strings"
)

// --- Path Sanitization ---
var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)

const maxComponentLength = 100

// SanitizePathComponent cleans a query or tag string so it is safe for use as a
// single directory or file name component. Tag queries regularly contain
// characters like ':' and '?' (id:<500, what?), so every on-disk use must go
// through here.
func SanitizePathComponent(name string) string {
	sanitized := invalidPathChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxComponentLength {
		sanitized = sanitized[:maxComponentLength]
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}
