package model

import "time"

// Exposure is read-only metadata for one observation, owned by an external
// registry. TimespanBegin/TimespanEnd may be nil: some registries contain
// exposures whose timespan was never recorded, and an unknown timespan is
// data, not an error.
type Exposure struct {
	ObsID             string     `json:"obs_id"`
	ID                int64      `json:"id"`
	Instrument        string     `json:"instrument"`
	ObservationType   string     `json:"observation_type"`
	ObservationReason string     `json:"observation_reason"`
	PhysicalFilter    string     `json:"physical_filter"`
	ExposureTime      *float64   `json:"exposure_time,omitempty"`
	DarkTime          *float64   `json:"dark_time,omitempty"`
	DayObs            int        `json:"day_obs"`
	SeqNum            int        `json:"seq_num"`
	GroupName         string     `json:"group_name"`
	GroupID           int64      `json:"group_id"`
	TargetName        string     `json:"target_name"`
	ScienceProgram    string     `json:"science_program"`
	TrackingRA        *float64   `json:"tracking_ra,omitempty"`
	TrackingDec       *float64   `json:"tracking_dec,omitempty"`
	SkyAngle          *float64   `json:"sky_angle,omitempty"`
	TimespanBegin     *time.Time `json:"timespan_begin,omitempty"`
	TimespanEnd       *time.Time `json:"timespan_end,omitempty"`
}
