package server

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsenv/exposurelog/internal/model"
)

func TestDecodeMessageQuery_AbsentVsEmptyLists(t *testing.T) {
	q, err := decodeMessageQuery(url.Values{})
	require.NoError(t, err)
	assert.Nil(t, q.SiteIDs)

	// A present but valueless parameter is an empty list, which matches
	// nothing downstream.
	q, err = decodeMessageQuery(url.Values{"site_ids": {""}})
	require.NoError(t, err)
	require.NotNil(t, q.SiteIDs)
	assert.Empty(t, q.SiteIDs)

	q, err = decodeMessageQuery(url.Values{"site_ids": {"summit", "base"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"summit", "base"}, q.SiteIDs)
}

func TestDecodeMessageQuery_Fields(t *testing.T) {
	values := url.Values{
		"obs_ids":        {"E001"},
		"message_text":   {"seeing"},
		"min_day_obs":    {"20220208"},
		"max_day_obs":    {"20220209"},
		"is_human":       {"true"},
		"is_valid":       {"false"},
		"has_parent_id":  {"true"},
		"order_by":       {"-date_added", "id"},
		"offset":         {"10"},
		"limit":          {"5"},
		"min_date_added": {"2022-02-08T12:00:00Z"},
	}
	q, err := decodeMessageQuery(values)
	require.NoError(t, err)
	assert.Equal(t, []string{"E001"}, q.ObsIDs)
	assert.Equal(t, "seeing", q.MessageTextContains)
	require.NotNil(t, q.MinDayObs)
	assert.Equal(t, 20220208, *q.MinDayObs)
	assert.Equal(t, model.TristateTrue, q.IsHuman)
	assert.Equal(t, model.TristateFalse, q.IsValid)
	assert.Equal(t, model.TristateTrue, q.HasParentID)
	assert.Equal(t, []string{"-date_added", "id"}, q.OrderBy)
	assert.Equal(t, 10, q.Offset)
	assert.Equal(t, 5, q.Limit)
	require.NotNil(t, q.MinDateAdded)
	assert.Equal(t, time.Date(2022, 2, 8, 12, 0, 0, 0, time.UTC), *q.MinDateAdded)
}

func TestDecodeExposureQuery(t *testing.T) {
	index, q, err := decodeExposureQuery(url.Values{
		"instrument":      {"LATISS"},
		"registry":        {"2"},
		"min_seq_num":     {"100"},
		"max_tracking_ra": {"35.5"},
		"min_date":        {"2022-02-08"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, index)
	assert.Equal(t, "LATISS", q.Instrument)
	require.NotNil(t, q.MinSeqNum)
	assert.Equal(t, 100, *q.MinSeqNum)
	require.NotNil(t, q.MaxTrackingRA)
	assert.InDelta(t, 35.5, *q.MaxTrackingRA, 0.001)
	require.NotNil(t, q.MinDate)
	assert.Equal(t, time.Date(2022, 2, 8, 0, 0, 0, 0, time.UTC), *q.MinDate)

	// Registry defaults to 1.
	index, _, err = decodeExposureQuery(url.Values{"instrument": {"LATISS"}})
	require.NoError(t, err)
	assert.Equal(t, 1, index)

	_, _, err = decodeExposureQuery(url.Values{"registry": {"one"}})
	assert.Error(t, err)
}
