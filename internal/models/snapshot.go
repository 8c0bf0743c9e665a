package models

// PlaybackSnapshot is an immutable, timestamped report of one peer's playback
// state at the moment it was captured. Peers produce a fresh snapshot on every
// report; snapshots are replaced wholesale and never mutated.
type PlaybackSnapshot struct {
	TrackID      string `json:"track_id"`
	PositionMs   int64  `json:"position_ms"`
	IsPlaying    bool   `json:"is_playing"`
	ReportedAtMs int64  `json:"reported_at_ms"`
}

// ProjectedPositionMs returns where the track should be at nowMs given this
// snapshot. A paused snapshot is never projected forward regardless of how
// much time has elapsed.
func (s *PlaybackSnapshot) ProjectedPositionMs(nowMs int64) int64 {
	if !s.IsPlaying {
		return s.PositionMs
	}
	elapsed := nowMs - s.ReportedAtMs
	if elapsed < 0 {
		elapsed = 0
	}
	return s.PositionMs + elapsed
}
