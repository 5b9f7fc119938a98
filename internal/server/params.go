package server

import (
	"net/url"
	"strconv"
	"time"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/registry"
	"github.com/obsenv/exposurelog/internal/search"
)

// decodeMessageQuery reads find_messages parameters. A list parameter that
// is absent stays nil (unconstrained); present but valueless it becomes an
// empty list, which matches nothing.
func decodeMessageQuery(q url.Values) (search.MessageQuery, error) {
	out := search.MessageQuery{
		SiteIDs:             listParam(q, "site_ids"),
		ObsIDs:              listParam(q, "obs_ids"),
		Instruments:         listParam(q, "instruments"),
		UserIDs:             listParam(q, "user_ids"),
		UserAgents:          listParam(q, "user_agents"),
		ExposureFlags:       listParam(q, "exposure_flags"),
		Tags:                listParam(q, "tags"),
		ObsIDContains:       q.Get("obs_id_contains"),
		MessageTextContains: q.Get("message_text"),
		OrderBy:             listParam(q, "order_by"),
	}

	var err error
	if out.MinDayObs, err = intParam(q, "min_day_obs"); err != nil {
		return out, err
	}
	if out.MaxDayObs, err = intParam(q, "max_day_obs"); err != nil {
		return out, err
	}
	if out.MinLevel, err = intParam(q, "min_level"); err != nil {
		return out, err
	}
	if out.MaxLevel, err = intParam(q, "max_level"); err != nil {
		return out, err
	}
	if out.MinDateAdded, err = timeParam(q, "min_date_added"); err != nil {
		return out, err
	}
	if out.MaxDateAdded, err = timeParam(q, "max_date_added"); err != nil {
		return out, err
	}
	if out.MinDateInvalidated, err = timeParam(q, "min_date_invalidated"); err != nil {
		return out, err
	}
	if out.MaxDateInvalidated, err = timeParam(q, "max_date_invalidated"); err != nil {
		return out, err
	}
	if out.IsHuman, err = tristateParam(q, "is_human"); err != nil {
		return out, err
	}
	if out.IsValid, err = tristateParam(q, "is_valid"); err != nil {
		return out, err
	}
	if out.HasDateInvalidated, err = tristateParam(q, "has_date_invalidated"); err != nil {
		return out, err
	}
	if out.HasParentID, err = tristateParam(q, "has_parent_id"); err != nil {
		return out, err
	}
	if out.Offset, err = nonNegParam(q, "offset"); err != nil {
		return out, err
	}
	if out.Limit, err = nonNegParam(q, "limit"); err != nil {
		return out, err
	}
	return out, nil
}

// decodeExposureQuery reads find_exposures parameters plus the registry
// selector, which defaults to the first registry.
func decodeExposureQuery(q url.Values) (int, registry.ExposureQuery, error) {
	out := registry.ExposureQuery{
		Instrument:         q.Get("instrument"),
		ObsIDs:             listParam(q, "obs_ids"),
		GroupNames:         listParam(q, "group_names"),
		ObservationTypes:   listParam(q, "observation_types"),
		ObservationReasons: listParam(q, "observation_reasons"),
		PhysicalFilters:    listParam(q, "physical_filters"),
		TargetNames:        listParam(q, "target_names"),
		SciencePrograms:    listParam(q, "science_programs"),
		OrderBy:            listParam(q, "order_by"),
	}

	index := 1
	if raw := q.Get("registry"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, out, errs.Validationf("registry %q is not an integer", raw)
		}
		index = v
	}

	var err error
	if out.MinDayObs, err = intParam(q, "min_day_obs"); err != nil {
		return 0, out, err
	}
	if out.MaxDayObs, err = intParam(q, "max_day_obs"); err != nil {
		return 0, out, err
	}
	if out.MinSeqNum, err = intParam(q, "min_seq_num"); err != nil {
		return 0, out, err
	}
	if out.MaxSeqNum, err = intParam(q, "max_seq_num"); err != nil {
		return 0, out, err
	}
	if out.MinTrackingRA, err = floatParam(q, "min_tracking_ra"); err != nil {
		return 0, out, err
	}
	if out.MaxTrackingRA, err = floatParam(q, "max_tracking_ra"); err != nil {
		return 0, out, err
	}
	if out.MinTrackingDec, err = floatParam(q, "min_tracking_dec"); err != nil {
		return 0, out, err
	}
	if out.MaxTrackingDec, err = floatParam(q, "max_tracking_dec"); err != nil {
		return 0, out, err
	}
	if out.MinDate, err = timeParam(q, "min_date"); err != nil {
		return 0, out, err
	}
	if out.MaxDate, err = timeParam(q, "max_date"); err != nil {
		return 0, out, err
	}
	if out.Offset, err = nonNegParam(q, "offset"); err != nil {
		return 0, out, err
	}
	if out.Limit, err = nonNegParam(q, "limit"); err != nil {
		return 0, out, err
	}
	return index, out, nil
}

func listParam(q url.Values, key string) []string {
	raw, ok := q[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func intParam(q url.Values, key string) (*int, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errs.Validationf("%s %q is not an integer", key, raw)
	}
	return &v, nil
}

func floatParam(q url.Values, key string) (*float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errs.Validationf("%s %q is not a number", key, raw)
	}
	return &v, nil
}

func nonNegParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errs.Validationf("%s %q is not a non-negative integer", key, raw)
	}
	return v, nil
}

// timeParam accepts RFC 3339 timestamps, with or without fractional
// seconds, and a bare date as midnight UTC.
func timeParam(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errs.Validationf("%s %q is not a valid timestamp", key, raw)
}

func tristateParam(q url.Values, key string) (model.Tristate, error) {
	t, err := model.ParseTristate(q.Get(key))
	if err != nil {
		return model.TristateAny, errs.Validationf("%s: %s", key, err)
	}
	return t, nil
}
