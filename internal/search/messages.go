package search

import (
	"time"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
)

// DefaultLimit caps result sets when the caller does not ask for a limit.
const DefaultLimit = 50

// MessageQuery holds every optional find_messages parameter. A nil slice
// or pointer, an empty contains string, and TristateAny all mean "no
// constraint"; an empty (non-nil) slice matches nothing.
type MessageQuery struct {
	SiteIDs       []string
	ObsIDs        []string
	Instruments   []string
	UserIDs       []string
	UserAgents    []string
	ExposureFlags []string

	ObsIDContains       string
	MessageTextContains string

	// Tags matches messages whose tag set intersects this set. Requested
	// tags are normalized with the same rule as storage.
	Tags []string

	MinDayObs *int
	MaxDayObs *int
	MinLevel  *int
	MaxLevel  *int

	MinDateAdded       *time.Time
	MaxDateAdded       *time.Time
	MinDateInvalidated *time.Time
	MaxDateInvalidated *time.Time

	IsHuman            model.Tristate
	IsValid            model.Tristate
	HasDateInvalidated model.Tristate
	HasParentID        model.Tristate

	OrderBy []string
	Offset  int
	Limit   int
}

// SQL renders the query tail (WHERE, ORDER BY, LIMIT, OFFSET) and its bound
// arguments for the given dialect. All validation happens before any SQL is
// assembled; a ValidationError here guarantees no query was executed.
func (q MessageQuery) SQL(dialect Dialect) (string, []any, error) {
	if q.Offset < 0 {
		return "", nil, errs.Validationf("offset %d is negative", q.Offset)
	}
	if q.Limit < 0 {
		return "", nil, errs.Validationf("limit %d is negative", q.Limit)
	}
	for _, flag := range q.ExposureFlags {
		if err := model.ExposureFlag(flag).Validate(); err != nil {
			return "", nil, err
		}
	}
	tags, err := model.NormalizeTags(q.Tags)
	if err != nil {
		return "", nil, err
	}
	orderBy, err := OrderByClause(q.OrderBy, messageOrderColumns, "id")
	if err != nil {
		return "", nil, err
	}

	b := &builder{dialect: dialect}
	b.membership("site_id", q.SiteIDs)
	b.membership("obs_id", q.ObsIDs)
	b.membership("instrument", q.Instruments)
	b.membership("user_id", q.UserIDs)
	b.membership("user_agent", q.UserAgents)
	b.membership("exposure_flag", q.ExposureFlags)
	if err := b.contains("obs_id", q.ObsIDContains); err != nil {
		return "", nil, err
	}
	if err := b.contains("message_text", q.MessageTextContains); err != nil {
		return "", nil, err
	}
	b.tagOverlap("tags", tags)
	b.rangeMin("day_obs", intArg(q.MinDayObs))
	b.rangeMax("day_obs", intArg(q.MaxDayObs))
	b.rangeMin("level", intArg(q.MinLevel))
	b.rangeMax("level", intArg(q.MaxLevel))
	b.rangeMin("date_added", timeArg(q.MinDateAdded))
	b.rangeMax("date_added", timeArg(q.MaxDateAdded))
	b.rangeMin("date_invalidated", timeArg(q.MinDateInvalidated))
	b.rangeMax("date_invalidated", timeArg(q.MaxDateInvalidated))
	b.tristate("is_human", q.IsHuman)
	b.tristate("is_valid", q.IsValid)
	b.hasValue("date_invalidated", q.HasDateInvalidated)
	b.hasValue("parent_id", q.HasParentID)

	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	tail := b.where() + orderBy + " LIMIT " + b.bind(limit)
	if q.Offset > 0 {
		tail += " OFFSET " + b.bind(q.Offset)
	}
	return tail, b.args, nil
}

// intArg converts *int to a bindable value, nil staying nil.
func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// timeArg converts *time.Time to a bindable value, nil staying nil.
func timeArg(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}
