package model

import (
	"regexp"
	"strings"

	"github.com/obsenv/exposurelog/internal/errs"
)

// Tags are stored lowercase and must look like identifiers: at least two
// characters, ASCII letters/digits/underscore, starting with a letter.
var tagPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// NormalizeTags lowercases tags and validates each against the tag rule.
// Invalid tags are rejected, never silently dropped. Normalization is
// idempotent: a normalized set passes through unchanged.
func NormalizeTags(tags []string) ([]string, error) {
	if tags == nil {
		return nil, nil
	}
	out := make([]string, len(tags))
	for i, tag := range tags {
		lowered := strings.ToLower(tag)
		if !tagPattern.MatchString(lowered) {
			return nil, errs.Validationf(
				"tag %q invalid: tags must have at least 2 characters, start with a letter, and contain only ASCII letters, digits, and underscore", tag)
		}
		out[i] = lowered
	}
	return out, nil
}
