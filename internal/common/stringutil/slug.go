// Package stringutil holds small string helpers shared across domains.
package stringutil

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases value, collapses runs of non-alphanumerics into a
// single dash, and trims leading/trailing dashes. An empty result falls
// back to a random hex suffix so callers always get a usable key.
func Slugify(value string) string {
	slug := strings.ToLower(strings.TrimSpace(value))
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "agent-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return slug
}

// TrimNonEmpty trims value and reports whether anything remains.
func TrimNonEmpty(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	return trimmed, trimmed != ""
}
