package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestClient_FindExposures(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exposures", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode([]model.Exposure{
			{ObsID: "AT_O_20220208_000123", Instrument: "LATISS", DayObs: 20220208, SeqNum: 123},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(1, srv.URL, WithRetry(fastRetry()))
	minDay := 20220208
	minRA := 35.5
	exposures, err := c.FindExposures(context.Background(), ExposureQuery{
		Instrument:      "LATISS",
		ObsIDs:          []string{"AT_O_20220208_000123"},
		PhysicalFilters: []string{"SDSSr_65mm"},
		MinDayObs:       &minDay,
		MinTrackingRA:   &minRA,
		OrderBy:         []string{"-seq_num"},
		Offset:          10,
	})
	require.NoError(t, err)
	require.Len(t, exposures, 1)
	assert.Equal(t, 20220208, exposures[0].DayObs)

	assert.Equal(t, []string{"LATISS"}, gotQuery["instrument"])
	assert.Equal(t, []string{"AT_O_20220208_000123"}, gotQuery["obs_id"])
	assert.Equal(t, []string{"SDSSr_65mm"}, gotQuery["physical_filter"])
	assert.Equal(t, []string{"20220208"}, gotQuery["min_day_obs"])
	assert.Equal(t, []string{"35.5"}, gotQuery["min_tracking_ra"])
	assert.Equal(t, []string{"-seq_num", "id"}, gotQuery["order_by"])
	assert.Equal(t, []string{"50"}, gotQuery["limit"])
	assert.Equal(t, []string{"10"}, gotQuery["offset"])
}

func TestClient_FindExposures_EmptyListShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	t.Cleanup(srv.Close)

	c := NewClient(1, srv.URL)
	exposures, err := c.FindExposures(context.Background(), ExposureQuery{
		Instrument: "LATISS",
		ObsIDs:     []string{},
	})
	require.NoError(t, err)
	assert.Empty(t, exposures)
}

func TestClient_FindExposures_RequiresInstrument(t *testing.T) {
	c := NewClient(1, "http://registry.invalid")
	_, err := c.FindExposures(context.Background(), ExposureQuery{})
	var vErr *errs.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestClient_FindExposures_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]model.Exposure{})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(1, srv.URL, WithRetry(fastRetry()))
	exposures, err := c.FindExposures(context.Background(), ExposureQuery{Instrument: "LATISS"})
	require.NoError(t, err)
	assert.Empty(t, exposures)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_FindExposures_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such instrument", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(2, srv.URL, WithRetry(fastRetry()))
	_, err := c.FindExposures(context.Background(), ExposureQuery{Instrument: "LSSTCam"})
	var rErr *errs.RegistryError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, 2, rErr.Registry)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Instruments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments", r.URL.Path)
		json.NewEncoder(w).Encode(instrumentsResponse{Instruments: []string{"LATISS"}})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(1, srv.URL)
	names, err := c.Instruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"LATISS"}, names)
}

func TestExposureQueryValidate(t *testing.T) {
	q := ExposureQuery{Instrument: "LATISS", OrderBy: []string{"-day_obs", "seq_num"}}
	orderBy, err := q.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{"-day_obs", "seq_num", "id"}, orderBy)

	q = ExposureQuery{Instrument: "LATISS", OrderBy: []string{"-id"}}
	orderBy, err = q.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{"-id"}, orderBy)

	q = ExposureQuery{Instrument: "LATISS", OrderBy: []string{"instrument"}}
	_, err = q.Validate()
	assert.Error(t, err)

	q = ExposureQuery{Instrument: "LATISS", Offset: -1}
	_, err = q.Validate()
	assert.Error(t, err)
}
