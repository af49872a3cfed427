package errors

import (
	"strings"
	"unicode"
)

// maxResourceLen bounds resource paths; the normalized form becomes a file name.
const maxResourceLen = 200

// ValidateResource validates a zKillboard resource path before it is turned
// into a cache key or a request URL.
//
// The validation rules are intentionally conservative:
//   - No empty paths (a lone "/" counts as empty)
//   - No control characters or null bytes
//   - No parent directory segments or backslashes
//   - No scheme or host (resources are relative to the API root)
//   - Maximum length of 200 characters
func ValidateResource(resource string) error {
	if strings.Trim(resource, "/") == "" {
		return New(ErrCodeInvalidResource, "resource path cannot be empty")
	}

	if len(resource) > maxResourceLen {
		return New(ErrCodeInvalidResource, "resource path too long (max %d characters)", maxResourceLen)
	}

	for _, r := range resource {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidResource, "resource path contains invalid control characters")
		}
	}

	if strings.Contains(resource, "://") {
		return New(ErrCodeInvalidResource, "resource path must be relative to the API root: %q", resource)
	}

	for _, pattern := range []string{"..", "\\"} {
		if strings.Contains(resource, pattern) {
			return New(ErrCodeInvalidResource, "resource path contains invalid characters: %q", pattern)
		}
	}

	return nil
}
