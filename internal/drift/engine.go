// Package drift holds the sync decision algorithm: given the two peers'
// latest snapshots and the client's manual offset, compute how far the client
// has drifted from where the host should be "now" and decide the smallest
// disruptive action that realigns it.
package drift

import "github.com/ljungh/tandem/internal/models"

// Config holds the drift band boundaries in milliseconds. The bands are
// policy, not physics; deployments may tighten or loosen them.
type Config struct {
	// FairThresholdMs is the smallest |drift| that warrants a correction.
	FairThresholdMs int64
	// PoorThresholdMs is the smallest |drift| that warrants an immediate,
	// non-gradual seek.
	PoorThresholdMs int64
}

// DefaultConfig returns the documented 500/3000 graded policy.
func DefaultConfig() Config {
	return Config{
		FairThresholdMs: 500,
		PoorThresholdMs: 3000,
	}
}

// Engine evaluates peer state into corrections. It is a pure function of its
// inputs plus the caller-supplied now: no I/O, no stored state, identical
// inputs always yield identical output.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given band config. Zero thresholds
// fall back to the defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.FairThresholdMs <= 0 {
		cfg.FairThresholdMs = def.FairThresholdMs
	}
	if cfg.PoorThresholdMs <= cfg.FairThresholdMs {
		cfg.PoorThresholdMs = def.PoorThresholdMs
	}
	return &Engine{cfg: cfg}
}

// Evaluate decides whether the client needs a correction. A nil result means
// the peers are in sync, or there is nothing to compare: no host snapshot
// means nothing to sync to, and no client snapshot means no comparison target
// (the join-in-progress state, resolved by the forced initial sync instead).
//
// Precedence: a track mismatch dominates everything, a play-state mismatch
// dominates position drift, and only then is drift magnitude classified into
// the graded bands.
func (e *Engine) Evaluate(host, client *models.PlaybackSnapshot, offsetMs, nowMs int64) *models.Correction {
	if host == nil || client == nil {
		return nil
	}

	targetMs := host.ProjectedPositionMs(nowMs) + offsetMs
	if targetMs < 0 {
		targetMs = 0
	}

	if host.TrackID != client.TrackID {
		return &models.Correction{
			Action:      models.ActionSwitchTrack,
			TrackID:     host.TrackID,
			PositionMs:  targetMs,
			EmittedAtMs: nowMs,
		}
	}

	if host.IsPlaying != client.IsPlaying {
		action := models.ActionPause
		if host.IsPlaying {
			action = models.ActionPlay
		}
		return &models.Correction{
			Action:      action,
			TrackID:     host.TrackID,
			PositionMs:  targetMs,
			EmittedAtMs: nowMs,
		}
	}

	drift := client.PositionMs - targetMs
	switch {
	case abs(drift) < e.cfg.FairThresholdMs:
		return nil
	case abs(drift) < e.cfg.PoorThresholdMs:
		return &models.Correction{
			Action:      models.ActionSeek,
			TrackID:     host.TrackID,
			PositionMs:  targetMs,
			Gradual:     true,
			EmittedAtMs: nowMs,
		}
	default:
		return &models.Correction{
			Action:      models.ActionSeek,
			TrackID:     host.TrackID,
			PositionMs:  targetMs,
			EmittedAtMs: nowMs,
		}
	}
}

// Drift returns the signed drift between the client's reported position and
// its target position at nowMs. ok is false when either snapshot is missing
// or the peers are on different tracks, in which case the drift number is
// meaningless.
func (e *Engine) Drift(host, client *models.PlaybackSnapshot, offsetMs, nowMs int64) (driftMs int64, ok bool) {
	if host == nil || client == nil || host.TrackID != client.TrackID {
		return 0, false
	}
	return client.PositionMs - (host.ProjectedPositionMs(nowMs) + offsetMs), true
}

// Quality classifies a drift magnitude for sync_status reporting.
func (e *Engine) Quality(driftMs int64) models.SyncQuality {
	d := abs(driftMs)
	switch {
	case d < 100:
		return models.QualityExcellent
	case d < e.cfg.FairThresholdMs:
		return models.QualityGood
	case d < e.cfg.PoorThresholdMs:
		return models.QualityFair
	default:
		return models.QualityPoor
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
