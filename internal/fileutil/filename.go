package fileutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

const fallbackName = "Recording"

// SanitizeForFilename sanitizes a string for safe use in filenames
func SanitizeForFilename(input string) string {
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	// Limit length to 50 characters for reasonable filenames
	if len(sanitized) > 50 {
		sanitized = strings.TrimRight(sanitized[:50], "-")
	}

	if sanitized == "" {
		return fallbackName
	}
	return sanitized
}

// DefaultOutputName builds YYYY-MM-DD_HHMM_<title><ext>.
func DefaultOutputName(title string, at time.Time, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return at.Format("2006-01-02_1504") + "_" + SanitizeForFilename(title) + ext
}

// ExtensionForMode returns the file extension a recording mode writes.
// Slideshow recordings are directories and get none.
func ExtensionForMode(mode string) string {
	switch mode {
	case "snapshot":
		return ".png"
	case "slideshow":
		return ""
	default:
		return ".mp4"
	}
}

// DefaultOutputPath joins dir with DefaultOutputName for the given mode.
func DefaultOutputPath(dir, title, mode string, at time.Time) string {
	return filepath.Join(dir, DefaultOutputName(title, at, ExtensionForMode(mode)))
}
