package common

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns free text into a ref-safe slug, capped at maxLen
// characters. Falls back to the given fallback when the input contains
// nothing usable. Used for branch names derived from issue titles.
func Slugify(input, fallback string, maxLen int) string {
	slug := slugify(input)
	if slug == "" {
		slug = slugify(fallback)
	}
	if maxLen > 0 && len(slug) > maxLen {
		slug = strings.Trim(slug[:maxLen], "-")
	}
	return slug
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}
