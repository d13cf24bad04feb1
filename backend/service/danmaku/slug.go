package danmaku

import (
	"strings"
	"unicode"
)

// BuildCanonicalSlug derives the cross-source sharing key from a title and an
// optional year. Lower-cased, whitespace removed, restricted to [a-z0-9] and
// CJK Unified Ideographs, with "-year" appended when a year is given. Returns
// "" for an empty or whitespace-only title.
//
// This is deliberately not fuzzy: punctuation and spacing differences
// normalize identically, and distinct titles that strip down to the same
// characters will collide.
func BuildCanonicalSlug(title string, year string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			continue
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 0x4e00 && r <= 0x9fff:
			b.WriteRune(r)
		}
	}
	slug := b.String()
	if slug == "" {
		return ""
	}

	if year = strings.TrimSpace(year); year != "" {
		slug += "-" + year
	}
	return slug
}
