// Package service ties the message store and the exposure registries into
// the exposurelog operations. One Service is constructed at startup and
// closed at shutdown; nothing here is package-level state.
package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/registry"
	"github.com/obsenv/exposurelog/internal/search"
	"github.com/obsenv/exposurelog/internal/store"
)

// MaxRegistries is how many exposure registries a deployment may configure.
const MaxRegistries = 2

// Service implements the exposurelog operations.
type Service struct {
	store      store.Store
	registries []registry.Registry
	siteID     string
}

// New creates a Service. registries must hold one or two entries, searched
// in order when resolving an exposure for a new message.
func New(st store.Store, registries []registry.Registry, siteID string) (*Service, error) {
	if len(registries) == 0 || len(registries) > MaxRegistries {
		return nil, errs.Validationf("need 1 to %d registries, got %d", MaxRegistries, len(registries))
	}
	if siteID == "" {
		return nil, errs.Validationf("site_id must not be empty")
	}
	return &Service{store: st, registries: registries, siteID: siteID}, nil
}

// Close releases the store. Registry clients hold no resources beyond
// pooled HTTP connections.
func (s *Service) Close() error {
	return s.store.Close()
}

// AddMessageParams are the caller-supplied fields for a new message.
type AddMessageParams struct {
	ObsID        string             `json:"obs_id"`
	Instrument   string             `json:"instrument"`
	MessageText  string             `json:"message_text"`
	Level        int                `json:"level"`
	Tags         []string           `json:"tags"`
	URLs         []string           `json:"urls"`
	UserID       string             `json:"user_id"`
	UserAgent    string             `json:"user_agent"`
	IsHuman      bool               `json:"is_human"`
	IsNew        bool               `json:"is_new"`
	ExposureFlag model.ExposureFlag `json:"exposure_flag"`
}

// AddMessage validates the params, resolves the exposure's observation day
// from the registries, and appends the message. If the exposure is unknown
// and IsNew is false the add fails; with IsNew true the obs_id format and
// day are checked instead (the exposure may not be ingested yet).
func (s *Service) AddMessage(ctx context.Context, p AddMessageParams) (*model.Message, error) {
	if p.Level == 0 {
		p.Level = model.LevelInfo
	}
	if p.ExposureFlag == "" {
		p.ExposureFlag = model.ExposureFlagNone
	}

	dayObs, err := s.resolveDayObs(ctx, p.Instrument, p.ObsID, p.IsNew)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AddMessage(ctx, store.AddMessageArgs{
		SiteID:       s.siteID,
		ObsID:        p.ObsID,
		Instrument:   p.Instrument,
		DayObs:       dayObs,
		MessageText:  p.MessageText,
		Level:        p.Level,
		Tags:         p.Tags,
		URLs:         p.URLs,
		UserID:       p.UserID,
		UserAgent:    p.UserAgent,
		IsHuman:      p.IsHuman,
		ExposureFlag: p.ExposureFlag,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("message added",
		zap.Int64("id", msg.ID),
		zap.String("obs_id", msg.ObsID),
		zap.String("instrument", msg.Instrument),
		zap.String("user_id", msg.UserID),
	)
	return msg, nil
}

// EditMessageParams are the fields an edit overrides; nil keeps the
// current value. The successor's site_id is always the serving site.
type EditMessageParams struct {
	MessageText  *string             `json:"message_text"`
	Level        *int                `json:"level"`
	Tags         []string            `json:"tags"`
	URLs         []string            `json:"urls"`
	UserID       *string             `json:"user_id"`
	UserAgent    *string             `json:"user_agent"`
	IsHuman      *bool               `json:"is_human"`
	ExposureFlag *model.ExposureFlag `json:"exposure_flag"`
}

// EditMessage supersedes message id with an edited copy.
func (s *Service) EditMessage(ctx context.Context, id int64, p EditMessageParams) (*model.Message, error) {
	msg, err := s.store.EditMessage(ctx, id, store.EditMessageArgs{
		SiteID:       &s.siteID,
		MessageText:  p.MessageText,
		Level:        p.Level,
		Tags:         p.Tags,
		URLs:         p.URLs,
		UserID:       p.UserID,
		UserAgent:    p.UserAgent,
		IsHuman:      p.IsHuman,
		ExposureFlag: p.ExposureFlag,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("message edited",
		zap.Int64("parent_id", id),
		zap.Int64("id", msg.ID),
	)
	return msg, nil
}

// DeleteMessage retracts a message. Repeat deletes succeed without
// changing state.
func (s *Service) DeleteMessage(ctx context.Context, id int64) (*model.Message, error) {
	msg, err := s.store.DeleteMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	zap.L().Info("message deleted", zap.Int64("id", id))
	return msg, nil
}

// GetMessage fetches one message by id.
func (s *Service) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// FindMessages runs a message search.
func (s *Service) FindMessages(ctx context.Context, q search.MessageQuery) ([]model.Message, error) {
	return s.store.FindMessages(ctx, q)
}

// FindExposures searches exactly one registry, selected by 1-based index.
// Results from two registries are never merged: their independent ordering
// makes combined offset pagination meaningless.
func (s *Service) FindExposures(ctx context.Context, registryIndex int, q registry.ExposureQuery) ([]model.Exposure, error) {
	if registryIndex < 1 || registryIndex > len(s.registries) {
		return nil, errs.Validationf("registry=%d but %d configured", registryIndex, len(s.registries))
	}
	return s.registries[registryIndex-1].FindExposures(ctx, q)
}

// Instruments reports which instruments each configured registry contains.
// Registries may be camera-specific, so callers should consult this before
// directing a find_exposures at a registry.
type Instruments struct {
	Registry1 []string `json:"registry_instruments_1"`
	Registry2 []string `json:"registry_instruments_2"`
}

// ListInstruments queries all configured registries concurrently.
func (s *Service) ListInstruments(ctx context.Context) (*Instruments, error) {
	lists := make([][]string, len(s.registries))
	g, gctx := errgroup.WithContext(ctx)
	for i, reg := range s.registries {
		g.Go(func() error {
			names, err := reg.Instruments(gctx)
			if err != nil {
				return err
			}
			lists[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Instruments{Registry1: lists[0], Registry2: []string{}}
	if out.Registry1 == nil {
		out.Registry1 = []string{}
	}
	if len(lists) > 1 && lists[1] != nil {
		out.Registry2 = lists[1]
	}
	return out, nil
}

// Configuration is the service metadata report.
type Configuration struct {
	SiteID       string `json:"site_id"`
	RegistryURL1 string `json:"registry_url_1"`
	RegistryURL2 string `json:"registry_url_2"`
}

// GetConfiguration reports the running configuration.
func (s *Service) GetConfiguration() Configuration {
	cfg := Configuration{SiteID: s.siteID, RegistryURL1: s.registries[0].URL()}
	if len(s.registries) > 1 {
		cfg.RegistryURL2 = s.registries[1].URL()
	}
	return cfg
}

// obsIDPattern is the exposure naming convention: camera code, controller,
// observation day, sequence number (e.g. AT_O_20220208_000123).
var obsIDPattern = regexp.MustCompile(`^[A-Z]{2}_[A-Z]_(\d{8})_(\d{6})$`)

// resolveDayObs finds the exposure in the first registry that knows it and
// returns its observation day. Registries that fail or lack the instrument
// are skipped. For an unknown exposure with isNew set, the obs_id encodes
// the day and is validated against the current observing day instead.
func (s *Service) resolveDayObs(ctx context.Context, instrument, obsID string, isNew bool) (int, error) {
	for i, reg := range s.registries {
		exposures, err := reg.FindExposures(ctx, registry.ExposureQuery{
			Instrument: instrument,
			ObsIDs:     []string{obsID},
			Limit:      2,
		})
		if err != nil {
			zap.L().Warn("registry lookup failed",
				zap.Int("registry", i+1),
				zap.String("obs_id", obsID),
				zap.Error(err),
			)
			continue
		}
		switch len(exposures) {
		case 0:
			continue
		case 1:
			return exposures[0].DayObs, nil
		default:
			return 0, &errs.RegistryError{
				Registry: i + 1,
				Err:      fmt.Errorf("%d exposures match instrument=%s obs_id=%s", len(exposures), instrument, obsID),
			}
		}
	}

	if !isNew {
		return 0, errs.NotFound("exposure", fmt.Sprintf("instrument=%s obs_id=%s", instrument, obsID))
	}
	return checkNewObsID(obsID, CurrentDayObs(time.Now()))
}

// checkNewObsID validates the obs_id of a not-yet-ingested exposure and
// returns the current observing day. The encoded day must be within one
// day of now, which catches both malformed ids and stale retries.
func checkNewObsID(obsID string, currentDayObs int) (int, error) {
	m := obsIDPattern.FindStringSubmatch(obsID)
	if m == nil {
		return 0, errs.Validationf("obs_id %q does not match CC_C_YYYYMMDD_NNNNNN", obsID)
	}
	dayObs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errs.Validationf("obs_id %q has unparsable day", obsID)
	}
	if dayObs < currentDayObs-1 || dayObs > currentDayObs+1 {
		return 0, errs.Validationf(
			"obs_id %q day_obs=%d not within one day of current day_obs=%d", obsID, dayObs, currentDayObs)
	}
	return currentDayObs, nil
}

// CurrentDayObs computes the observing day for a wall-clock instant. The
// observing day rolls over at noon UTC, so a whole night shares one
// day_obs.
func CurrentDayObs(now time.Time) int {
	t := now.UTC().Add(-12 * time.Hour)
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
