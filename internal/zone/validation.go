package zone

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxNameLength = 64
	maxSlugLength = 64
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// ValidateName checks that a zone name is usable as a claim value.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: name cannot have leading or trailing spaces", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(name, "/?#") {
		return fmt.Errorf("%w: name cannot contain '/', '?' or '#'", ErrInvalidName)
	}
	return nil
}

// GenerateSlug lower-cases name and joins alphanumeric runs with hyphens.
//
//	GenerateSlug("North East") // "north-east"
func GenerateSlug(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}
