package models

// CorrectionAction is the kind of realignment a peer is told to perform.
type CorrectionAction string

const (
	ActionPlay        CorrectionAction = "play"
	ActionPause       CorrectionAction = "pause"
	ActionSeek        CorrectionAction = "seek"
	ActionSwitchTrack CorrectionAction = "switch_track"
)

// Correction is the coordinator's decision output: an action plus the target
// state, sent to the client peer to realign it with the host. Gradual marks a
// seek the playback layer may choose to interpolate instead of jumping; the
// coordinator's contract is only that a correction is needed.
type Correction struct {
	Action      CorrectionAction `json:"action"`
	TrackID     string           `json:"track_id"`
	PositionMs  int64            `json:"position_ms"`
	Gradual     bool             `json:"gradual,omitempty"`
	EmittedAtMs int64            `json:"timestamp_ms"`
}

// SyncQuality grades how closely the client tracks the host.
type SyncQuality string

const (
	QualityExcellent SyncQuality = "excellent"
	QualityGood      SyncQuality = "good"
	QualityFair      SyncQuality = "fair"
	QualityPoor      SyncQuality = "poor"
)

// DriftReport is derived fresh on each evaluation and never stored.
type DriftReport struct {
	DriftMs int64       `json:"drift_ms"`
	Quality SyncQuality `json:"quality"`
}
