// Package store owns the append-only message table. Rows are never
// updated in place except for the single is_valid transition, and never
// physically deleted; edit creates a successor row linked by parent_id.
package store

import (
	"context"
	"strings"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/search"
)

// requiredSchemaVersion is the schema version this code reads and writes.
// CheckSchemaVersion fails fast when the persisted store disagrees.
const requiredSchemaVersion = 2

// AddMessageArgs holds the fields for a new message. The store assigns
// id and date_added; is_valid starts true and parent_id absent.
type AddMessageArgs struct {
	SiteID       string
	ObsID        string
	Instrument   string
	DayObs       int
	MessageText  string
	Level        int
	Tags         []string
	URLs         []string
	UserID       string
	UserAgent    string
	IsHuman      bool
	ExposureFlag model.ExposureFlag
}

// Validate checks the args and returns the normalized tag set.
func (a *AddMessageArgs) Validate() ([]string, error) {
	if strings.TrimSpace(a.MessageText) == "" {
		return nil, errs.Validationf("message_text must not be empty")
	}
	if err := a.ExposureFlag.Validate(); err != nil {
		return nil, err
	}
	if err := model.ValidateLevel(a.Level); err != nil {
		return nil, err
	}
	return model.NormalizeTags(a.Tags)
}

// EditMessageArgs holds the fields an edit overrides on the successor row.
// A nil field keeps the parent's value.
type EditMessageArgs struct {
	SiteID       *string
	MessageText  *string
	Level        *int
	Tags         []string
	URLs         []string
	UserID       *string
	UserAgent    *string
	IsHuman      *bool
	ExposureFlag *model.ExposureFlag
}

// Validate checks the overridden fields and returns the normalized tag
// set (nil when tags are not being changed).
func (a *EditMessageArgs) Validate() ([]string, error) {
	if a.MessageText != nil && strings.TrimSpace(*a.MessageText) == "" {
		return nil, errs.Validationf("message_text must not be empty")
	}
	if a.ExposureFlag != nil {
		if err := a.ExposureFlag.Validate(); err != nil {
			return nil, err
		}
	}
	if a.Level != nil {
		if err := model.ValidateLevel(*a.Level); err != nil {
			return nil, err
		}
	}
	return model.NormalizeTags(a.Tags)
}

// apply copies parent fields into a successor row, overridden by the args.
// id, date_added, date_invalidated, and parent_id are set by the store.
func (a *EditMessageArgs) apply(parent *model.Message, tags []string) model.Message {
	child := *parent
	child.DateInvalidated = nil
	if a.SiteID != nil {
		child.SiteID = *a.SiteID
	}
	if a.MessageText != nil {
		child.MessageText = *a.MessageText
	}
	if a.Level != nil {
		child.Level = *a.Level
	}
	if a.Tags != nil {
		child.Tags = tags
	}
	if a.URLs != nil {
		child.URLs = a.URLs
	}
	if a.UserID != nil {
		child.UserID = *a.UserID
	}
	if a.UserAgent != nil {
		child.UserAgent = *a.UserAgent
	}
	if a.IsHuman != nil {
		child.IsHuman = *a.IsHuman
	}
	if a.ExposureFlag != nil {
		child.ExposureFlag = *a.ExposureFlag
	}
	return child
}

// Store is the persistence interface for the message log.
type Store interface {
	AddMessage(ctx context.Context, args AddMessageArgs) (*model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)

	// EditMessage atomically inserts a successor row (parent_id = id,
	// fields copied from the parent overridden by args) and invalidates
	// the parent. A concurrent edit or delete of the same id surfaces as
	// a ConflictError; at most one successor ever exists per invalidated
	// row.
	EditMessage(ctx context.Context, id int64, args EditMessageArgs) (*model.Message, error)

	// DeleteMessage invalidates a message without creating a successor.
	// Deleting an already-invalid message is a no-op success.
	DeleteMessage(ctx context.Context, id int64) (*model.Message, error)

	FindMessages(ctx context.Context, q search.MessageQuery) ([]model.Message, error)

	// Migrate upgrades the persisted schema to the current version. Safe
	// against an empty store and idempotent against a current one.
	Migrate(ctx context.Context) error

	// CheckSchemaVersion fails with a SchemaMismatchError unless the
	// persisted schema version matches what this code requires.
	CheckSchemaVersion(ctx context.Context) error

	Close() error
}

// messageColumns is the column list every message SELECT uses, in scan
// order.
const messageColumns = "id, site_id, obs_id, instrument, day_obs, message_text, level, tags, urls, " +
	"user_id, user_agent, is_human, is_valid, exposure_flag, date_added, date_invalidated, parent_id"
