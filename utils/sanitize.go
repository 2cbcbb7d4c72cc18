package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.StrictPolicy()

// SanitizeText strips all markup from free-text input such as adjustment
// reasons and usernames before it is persisted or echoed back.
func SanitizeText(input string) string {
	return strings.TrimSpace(sanitizer.Sanitize(input))
}
