package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/registry"
	"github.com/obsenv/exposurelog/internal/search"
	"github.com/obsenv/exposurelog/internal/store"
)

// fakeRegistry serves canned exposures keyed by obs_id.
type fakeRegistry struct {
	url         string
	instruments []string
	exposures   map[string]model.Exposure
	err         error
	findCalls   int
}

func (f *fakeRegistry) FindExposures(ctx context.Context, q registry.ExposureQuery) ([]model.Exposure, error) {
	f.findCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := []model.Exposure{}
	if q.ObsIDs == nil {
		for _, e := range f.exposures {
			out = append(out, e)
		}
		return out, nil
	}
	for _, id := range q.ObsIDs {
		if e, ok := f.exposures[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Instruments(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instruments, nil
}

func (f *fakeRegistry) URL() string { return f.url }

func newTestService(t *testing.T, regs ...registry.Registry) *Service {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	svc, err := New(st, regs, "summit")
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func knownExposure(obsID string, dayObs int) map[string]model.Exposure {
	return map[string]model.Exposure{
		obsID: {ObsID: obsID, Instrument: "LATISS", DayObs: dayObs, SeqNum: 123},
	}
}

func TestNew_Validation(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "new.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = New(st, nil, "summit")
	assert.Error(t, err)

	_, err = New(st, []registry.Registry{&fakeRegistry{}, &fakeRegistry{}, &fakeRegistry{}}, "summit")
	assert.Error(t, err)

	_, err = New(st, []registry.Registry{&fakeRegistry{}}, "")
	assert.Error(t, err)
}

func TestAddMessage_ResolvesDayObs(t *testing.T) {
	reg := &fakeRegistry{exposures: knownExposure("AT_O_20220208_000123", 20220208)}
	svc := newTestService(t, reg)

	msg, err := svc.AddMessage(context.Background(), AddMessageParams{
		ObsID:       "AT_O_20220208_000123",
		Instrument:  "LATISS",
		MessageText: "trailing stars",
		UserID:      "obsops",
		UserAgent:   "LOVE",
		IsHuman:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 20220208, msg.DayObs)
	assert.Equal(t, "summit", msg.SiteID)
	assert.Equal(t, model.LevelInfo, msg.Level)
	assert.Equal(t, model.ExposureFlagNone, msg.ExposureFlag)
}

func TestAddMessage_SecondRegistryConsulted(t *testing.T) {
	first := &fakeRegistry{exposures: map[string]model.Exposure{}}
	second := &fakeRegistry{exposures: knownExposure("LC_O_20220208_000007", 20220208)}
	svc := newTestService(t, first, second)

	msg, err := svc.AddMessage(context.Background(), AddMessageParams{
		ObsID:       "LC_O_20220208_000007",
		Instrument:  "LSSTCam",
		MessageText: "shutter stuck",
		UserID:      "obsops",
		UserAgent:   "LOVE",
	})
	require.NoError(t, err)
	assert.Equal(t, 20220208, msg.DayObs)
	assert.Equal(t, 1, first.findCalls)
	assert.Equal(t, 1, second.findCalls)
}

func TestAddMessage_RegistryFailureFallsThrough(t *testing.T) {
	broken := &fakeRegistry{err: errors.New("registry down")}
	working := &fakeRegistry{exposures: knownExposure("AT_O_20220208_000123", 20220208)}
	svc := newTestService(t, broken, working)

	msg, err := svc.AddMessage(context.Background(), AddMessageParams{
		ObsID:       "AT_O_20220208_000123",
		Instrument:  "LATISS",
		MessageText: "ok after all",
		UserID:      "obsops",
		UserAgent:   "LOVE",
	})
	require.NoError(t, err)
	assert.Equal(t, 20220208, msg.DayObs)
}

func TestAddMessage_UnknownExposure(t *testing.T) {
	svc := newTestService(t, &fakeRegistry{exposures: map[string]model.Exposure{}})

	_, err := svc.AddMessage(context.Background(), AddMessageParams{
		ObsID:       "AT_O_20220208_000999",
		Instrument:  "LATISS",
		MessageText: "never happened",
		UserID:      "obsops",
		UserAgent:   "LOVE",
	})
	var nfErr *errs.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "exposure", nfErr.Kind)
}

func TestAddMessage_IsNew(t *testing.T) {
	svc := newTestService(t, &fakeRegistry{exposures: map[string]model.Exposure{}})

	current := CurrentDayObs(time.Now())
	obsID := fmt.Sprintf("AT_O_%08d_000123", current)

	msg, err := svc.AddMessage(context.Background(), AddMessageParams{
		ObsID:       obsID,
		Instrument:  "LATISS",
		MessageText: "not yet ingested",
		UserID:      "obsops",
		UserAgent:   "LOVE",
		IsNew:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, current, msg.DayObs)
}

func TestAddMessage_IsNew_BadObsID(t *testing.T) {
	svc := newTestService(t, &fakeRegistry{exposures: map[string]model.Exposure{}})

	for _, obsID := range []string{"garbage", "AT_O_19990101_000123"} {
		_, err := svc.AddMessage(context.Background(), AddMessageParams{
			ObsID:       obsID,
			Instrument:  "LATISS",
			MessageText: "m",
			UserID:      "obsops",
			UserAgent:   "LOVE",
			IsNew:       true,
		})
		var vErr *errs.ValidationError
		assert.ErrorAs(t, err, &vErr, "obs_id %q", obsID)
	}
}

func TestAddMessage_AmbiguousExposure(t *testing.T) {
	svc := newTestService(t, &ambiguousRegistry{})

	_, err := svc.AddMessage(context.Background(), AddMessageParams{
		ObsID:       "dup",
		Instrument:  "LATISS",
		MessageText: "m",
		UserID:      "obsops",
		UserAgent:   "LOVE",
	})
	var rErr *errs.RegistryError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, 1, rErr.Registry)
}

// ambiguousRegistry returns two exposures for any obs_id lookup.
type ambiguousRegistry struct{}

func (a *ambiguousRegistry) FindExposures(ctx context.Context, q registry.ExposureQuery) ([]model.Exposure, error) {
	return []model.Exposure{{ObsID: "dup", DayObs: 20220208}, {ObsID: "dup", DayObs: 20220209}}, nil
}

func (a *ambiguousRegistry) Instruments(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (a *ambiguousRegistry) URL() string { return "http://ambiguous.example" }

func TestEditMessage_OverridesSiteID(t *testing.T) {
	reg := &fakeRegistry{exposures: knownExposure("AT_O_20220208_000123", 20220208)}
	svc := newTestService(t, reg)
	ctx := context.Background()

	created, err := svc.AddMessage(ctx, AddMessageParams{
		ObsID: "AT_O_20220208_000123", Instrument: "LATISS",
		MessageText: "original", UserID: "obsops", UserAgent: "LOVE",
	})
	require.NoError(t, err)

	text := "revised"
	edited, err := svc.EditMessage(ctx, created.ID, EditMessageParams{MessageText: &text})
	require.NoError(t, err)
	assert.Equal(t, "revised", edited.MessageText)
	assert.Equal(t, "summit", edited.SiteID)
	require.NotNil(t, edited.ParentID)
	assert.Equal(t, created.ID, *edited.ParentID)

	msgs, err := svc.FindMessages(ctx, search.MessageQuery{
		ObsIDs:  []string{"AT_O_20220208_000123"},
		IsValid: model.TristateTrue,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, edited.ID, msgs[0].ID)
}

func TestDeleteMessage_Idempotent(t *testing.T) {
	reg := &fakeRegistry{exposures: knownExposure("AT_O_20220208_000123", 20220208)}
	svc := newTestService(t, reg)
	ctx := context.Background()

	created, err := svc.AddMessage(ctx, AddMessageParams{
		ObsID: "AT_O_20220208_000123", Instrument: "LATISS",
		MessageText: "m", UserID: "obsops", UserAgent: "LOVE",
	})
	require.NoError(t, err)

	deleted, err := svc.DeleteMessage(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted.IsValid)

	_, err = svc.DeleteMessage(ctx, created.ID)
	require.NoError(t, err)
}

func TestFindExposures_RegistrySelection(t *testing.T) {
	first := &fakeRegistry{exposures: knownExposure("AT_O_20220208_000123", 20220208)}
	second := &fakeRegistry{exposures: map[string]model.Exposure{}}
	svc := newTestService(t, first, second)
	ctx := context.Background()

	exposures, err := svc.FindExposures(ctx, 1, registry.ExposureQuery{Instrument: "LATISS"})
	require.NoError(t, err)
	assert.Len(t, exposures, 1)
	assert.Equal(t, 0, second.findCalls)

	exposures, err = svc.FindExposures(ctx, 2, registry.ExposureQuery{Instrument: "LATISS"})
	require.NoError(t, err)
	assert.Empty(t, exposures)

	_, err = svc.FindExposures(ctx, 3, registry.ExposureQuery{Instrument: "LATISS"})
	var vErr *errs.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.FindExposures(ctx, 0, registry.ExposureQuery{Instrument: "LATISS"})
	assert.ErrorAs(t, err, &vErr)
}

func TestListInstruments(t *testing.T) {
	first := &fakeRegistry{instruments: []string{"LATISS"}}
	second := &fakeRegistry{instruments: []string{"LSSTCam"}}
	svc := newTestService(t, first, second)

	out, err := svc.ListInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"LATISS"}, out.Registry1)
	assert.Equal(t, []string{"LSSTCam"}, out.Registry2)
}

func TestListInstruments_SingleRegistry(t *testing.T) {
	svc := newTestService(t, &fakeRegistry{instruments: []string{"LATISS"}})

	out, err := svc.ListInstruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"LATISS"}, out.Registry1)
	assert.Equal(t, []string{}, out.Registry2)
}

func TestGetConfiguration(t *testing.T) {
	first := &fakeRegistry{url: "http://registry-1.example"}
	second := &fakeRegistry{url: "http://registry-2.example"}
	svc := newTestService(t, first, second)

	cfg := svc.GetConfiguration()
	assert.Equal(t, "summit", cfg.SiteID)
	assert.Equal(t, "http://registry-1.example", cfg.RegistryURL1)
	assert.Equal(t, "http://registry-2.example", cfg.RegistryURL2)
}

func TestCurrentDayObs(t *testing.T) {
	// Before noon UTC the observing day is still yesterday.
	morning := time.Date(2022, 2, 8, 11, 59, 0, 0, time.UTC)
	assert.Equal(t, 20220207, CurrentDayObs(morning))

	afternoon := time.Date(2022, 2, 8, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 20220208, CurrentDayObs(afternoon))
}

func TestCheckNewObsID(t *testing.T) {
	day, err := checkNewObsID("AT_O_20220208_000123", 20220208)
	require.NoError(t, err)
	assert.Equal(t, 20220208, day)

	// One day either side is accepted (midnight crossings, clock skew).
	_, err = checkNewObsID("AT_O_20220207_000123", 20220208)
	assert.NoError(t, err)
	_, err = checkNewObsID("AT_O_20220209_000123", 20220208)
	assert.NoError(t, err)

	_, err = checkNewObsID("AT_O_20220201_000123", 20220208)
	assert.Error(t, err)
	_, err = checkNewObsID("at_o_20220208_000123", 20220208)
	assert.Error(t, err)
}
