// Package registry reads exposure metadata from external,
// instrument-scoped registries. Registries are read-only and independent:
// a single find searches exactly one registry, because order_by + offset
// pagination cannot be kept consistent across two independently ordered
// sources.
package registry

import (
	"context"
	"time"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
)

// DefaultLimit caps exposure result sets when the caller does not ask for
// a limit.
const DefaultLimit = 50

// exposureOrderColumns is the allow-list of exposure order_by columns.
// instrument is excluded: every query is already scoped to one instrument.
var exposureOrderColumns = map[string]bool{
	"id":                 true,
	"obs_id":             true,
	"observation_type":   true,
	"observation_reason": true,
	"physical_filter":    true,
	"exposure_time":      true,
	"dark_time":          true,
	"day_obs":            true,
	"seq_num":            true,
	"group_name":         true,
	"group_id":           true,
	"target_name":        true,
	"science_program":    true,
	"tracking_ra":        true,
	"tracking_dec":       true,
	"sky_angle":          true,
	"timespan_begin":     true,
	"timespan_end":       true,
}

// ExposureQuery holds find_exposures parameters. Nil slices and pointers
// mean "no constraint"; an empty slice matches nothing. MinDate/MaxDate
// filter on timespan overlap; an exposure with no recorded timespan never
// matches a date filter but is returned freely otherwise.
type ExposureQuery struct {
	Instrument string

	ObsIDs             []string
	GroupNames         []string
	ObservationTypes   []string
	ObservationReasons []string
	PhysicalFilters    []string
	TargetNames        []string
	SciencePrograms    []string

	MinDayObs *int
	MaxDayObs *int
	MinSeqNum *int
	MaxSeqNum *int

	MinTrackingRA  *float64
	MaxTrackingRA  *float64
	MinTrackingDec *float64
	MaxTrackingDec *float64

	MinDate *time.Time
	MaxDate *time.Time

	OrderBy []string
	Offset  int
	Limit   int
}

// Validate checks the query and returns the effective order_by list with
// the id tie-break appended when absent.
func (q *ExposureQuery) Validate() ([]string, error) {
	if q.Instrument == "" {
		return nil, errs.Validationf("instrument is required")
	}
	if q.Offset < 0 {
		return nil, errs.Validationf("offset %d is negative", q.Offset)
	}
	if q.Limit < 0 {
		return nil, errs.Validationf("limit %d is negative", q.Limit)
	}
	orderBy := q.OrderBy
	sawID := false
	for _, item := range orderBy {
		name := item
		if len(item) > 0 && item[0] == '-' {
			name = item[1:]
		}
		if !exposureOrderColumns[name] {
			return nil, errs.Validationf("order_by column %q is not sortable", item)
		}
		if name == "id" {
			sawID = true
		}
	}
	if !sawID {
		orderBy = append(append([]string{}, orderBy...), "id")
	}
	return orderBy, nil
}

// Registry is one external exposure metadata source.
type Registry interface {
	// FindExposures returns exposures matching the query, ordered per its
	// validated order_by. Unknown instruments yield an empty result, not
	// an error.
	FindExposures(ctx context.Context, q ExposureQuery) ([]model.Exposure, error)

	// Instruments reports which instruments this registry contains.
	Instruments(ctx context.Context) ([]string, error)

	// URL identifies the registry for configuration reporting.
	URL() string
}
