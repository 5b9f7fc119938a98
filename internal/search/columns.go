package search

import (
	"strings"

	"github.com/obsenv/exposurelog/internal/errs"
)

// messageOrderColumns is the allow-list of columns accepted in order_by.
// tags and urls are excluded: ordering by an array column is not meaningful
// and would leak dialect-specific behavior.
var messageOrderColumns = map[string]bool{
	"id":               true,
	"site_id":          true,
	"obs_id":           true,
	"instrument":       true,
	"day_obs":          true,
	"message_text":     true,
	"level":            true,
	"user_id":          true,
	"user_agent":       true,
	"is_human":         true,
	"is_valid":         true,
	"exposure_flag":    true,
	"date_added":       true,
	"date_invalidated": true,
	"parent_id":        true,
}

// OrderByClause validates order_by items against an allow-list and renders
// an ORDER BY clause. A leading "-" requests descending order. If no item
// names the tieBreak column (in either direction), ascending tieBreak is
// appended so that limit/offset pagination is repeatable across calls.
// An unknown column is a ValidationError; no SQL referencing it is ever
// built, let alone executed.
func OrderByClause(items []string, allowed map[string]bool, tieBreak string) (string, error) {
	var terms []string
	sawTieBreak := false
	for _, item := range items {
		name := item
		dir := " ASC"
		if strings.HasPrefix(item, "-") {
			name = item[1:]
			dir = " DESC"
		}
		if !allowed[name] {
			return "", errs.Validationf("order_by column %q is not sortable", item)
		}
		if name == tieBreak {
			sawTieBreak = true
		}
		terms = append(terms, name+dir)
	}
	if !sawTieBreak {
		terms = append(terms, tieBreak+" ASC")
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}
