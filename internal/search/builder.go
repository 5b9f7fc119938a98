// Package search builds parameterized SQL for the message query engine.
//
// Every searchable field is enumerated here with an explicit comparison
// kind (membership, range, substring, tag intersection, tristate,
// null-check). The builder folds the supplied filters into one WHERE
// clause of bound placeholders; caller input never becomes SQL text.
package search

import (
	"fmt"
	"strings"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
)

// Dialect selects placeholder style and the few operators that differ
// between the two store backends.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// builder accumulates WHERE conditions and their bound arguments.
type builder struct {
	dialect Dialect
	conds   []string
	args    []any
}

// bind registers one argument and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	if b.dialect == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", len(b.args))
}

// membership adds "col IN (...)". nil means unconstrained; an empty list
// matches nothing (the two are distinct states by contract).
func (b *builder) membership(col string, values []string) {
	if values == nil {
		return
	}
	if len(values) == 0 {
		b.conds = append(b.conds, "1 = 0")
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(v)
	}
	b.conds = append(b.conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
}

// rangeMin adds an inclusive lower bound.
func (b *builder) rangeMin(col string, value any) {
	if value == nil {
		return
	}
	b.conds = append(b.conds, fmt.Sprintf("%s >= %s", col, b.bind(value)))
}

// rangeMax adds an inclusive upper bound.
func (b *builder) rangeMax(col string, value any) {
	if value == nil {
		return
	}
	b.conds = append(b.conds, fmt.Sprintf("%s <= %s", col, b.bind(value)))
}

// contains adds a case-insensitive substring match. The needle is escaped
// so LIKE metacharacters match literally.
func (b *builder) contains(col, needle string) error {
	if needle == "" {
		return nil
	}
	escaped, err := escapeLike(needle)
	if err != nil {
		return err
	}
	pattern := "%" + escaped + "%"
	if b.dialect == DialectSQLite {
		b.conds = append(b.conds, fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`, col, b.bind(strings.ToLower(pattern))))
	} else {
		b.conds = append(b.conds, fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, col, b.bind(pattern)))
	}
	return nil
}

// tagOverlap adds a set-intersection match on the tags column: the row
// matches if any stored tag is in the requested set. Postgres stores tags
// as text[]; SQLite stores them as a JSON array.
func (b *builder) tagOverlap(col string, tags []string) {
	if tags == nil {
		return
	}
	if len(tags) == 0 {
		b.conds = append(b.conds, "1 = 0")
		return
	}
	if b.dialect == DialectPostgres {
		b.conds = append(b.conds, fmt.Sprintf("%s && %s", col, b.bind(tags)))
		return
	}
	placeholders := make([]string, len(tags))
	for i, t := range tags {
		placeholders[i] = b.bind(t)
	}
	b.conds = append(b.conds, fmt.Sprintf(
		"EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value IN (%s))",
		col, strings.Join(placeholders, ", ")))
}

// tristate adds "col = true/false", or nothing for the unconstrained state.
func (b *builder) tristate(col string, t model.Tristate) {
	switch t {
	case model.TristateTrue:
		b.conds = append(b.conds, fmt.Sprintf("%s = %s", col, b.bind(true)))
	case model.TristateFalse:
		b.conds = append(b.conds, fmt.Sprintf("%s = %s", col, b.bind(false)))
	}
}

// hasValue adds a null check: true requires the column set, false requires
// it absent, unconstrained adds nothing.
func (b *builder) hasValue(col string, t model.Tristate) {
	switch t {
	case model.TristateTrue:
		b.conds = append(b.conds, col+" IS NOT NULL")
	case model.TristateFalse:
		b.conds = append(b.conds, col+" IS NULL")
	}
}

// where renders the accumulated conditions, or the empty string when
// nothing constrains the query.
func (b *builder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// escapeLike escapes LIKE metacharacters and rejects needles that cannot
// be a legal match string.
func escapeLike(s string) (string, error) {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return "", errs.Validationf("search pattern contains control character %q", r)
		}
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s), nil
}
