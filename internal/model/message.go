package model

import (
	"time"

	"github.com/obsenv/exposurelog/internal/errs"
)

// ExposureFlag marks an exposure the message author believes may have
// problems.
type ExposureFlag string

const (
	ExposureFlagNone         ExposureFlag = "none"
	ExposureFlagJunk         ExposureFlag = "junk"
	ExposureFlagQuestionable ExposureFlag = "questionable"
)

// Validate checks that the flag is one of the allowed values.
func (f ExposureFlag) Validate() error {
	switch f {
	case ExposureFlagNone, ExposureFlagJunk, ExposureFlagQuestionable:
		return nil
	}
	return errs.Validationf("exposure_flag %q not in [none junk questionable]", string(f))
}

// Message levels follow python-style logging numeric levels, which is what
// the observatory tooling that writes these messages uses.
const (
	LevelDebug    = 10
	LevelInfo     = 20
	LevelWarning  = 30
	LevelError    = 40
	LevelCritical = 50
)

// ValidateLevel checks that level is one of the recognized severity values.
func ValidateLevel(level int) error {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return nil
	}
	return errs.Validationf("level %d not in [10 20 30 40 50]", level)
}

// Message is one annotation attached to an exposure. Rows are append-only:
// after creation only DateInvalidated ever changes, and only once, when the
// message is superseded by an edit or retracted by a delete. IsValid is
// derived from DateInvalidated by the store.
type Message struct {
	ID              int64        `json:"id"`
	SiteID          string       `json:"site_id"`
	ObsID           string       `json:"obs_id"`
	Instrument      string       `json:"instrument"`
	DayObs          int          `json:"day_obs"`
	MessageText     string       `json:"message_text"`
	Level           int          `json:"level"`
	Tags            []string     `json:"tags"`
	URLs            []string     `json:"urls"`
	UserID          string       `json:"user_id"`
	UserAgent       string       `json:"user_agent"`
	IsHuman         bool         `json:"is_human"`
	IsValid         bool         `json:"is_valid"`
	ExposureFlag    ExposureFlag `json:"exposure_flag"`
	DateAdded       time.Time    `json:"date_added"`
	DateInvalidated *time.Time   `json:"date_invalidated,omitempty"`
	ParentID        *int64       `json:"parent_id,omitempty"`
}
