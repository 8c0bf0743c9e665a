package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljungh/tandem/internal/models"
)

func snapshot(track string, posMs int64, playing bool, reportedAtMs int64) *models.PlaybackSnapshot {
	return &models.PlaybackSnapshot{
		TrackID:      track,
		PositionMs:   posMs,
		IsPlaying:    playing,
		ReportedAtMs: reportedAtMs,
	}
}

func TestEvaluateMissingSnapshots(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := snapshot("A", 1000, true, 0)
	host := snapshot("A", 1000, true, 0)

	assert.Nil(t, e.Evaluate(nil, client, 0, 5000))
	assert.Nil(t, e.Evaluate(host, nil, 0, 5000))
	assert.Nil(t, e.Evaluate(nil, nil, 2500, 5000))
}

func TestEvaluateLargeDriftSeeksImmediately(t *testing.T) {
	// Host reported 45000 at T while playing; 5s later the client sits at
	// 45200. Expected host position is 50000, drift is -4800.
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 45000, true, 1000)
	client := snapshot("A", 45200, true, 6000)

	c := e.Evaluate(host, client, 0, 6000)
	require.NotNil(t, c)
	assert.Equal(t, models.ActionSeek, c.Action)
	assert.Equal(t, int64(50000), c.PositionMs)
	assert.False(t, c.Gradual)
	assert.Equal(t, int64(6000), c.EmittedAtMs)
}

func TestEvaluateSmallDriftNeedsNoCorrection(t *testing.T) {
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 45000, true, 1000)
	client := snapshot("A", 49700, true, 6000) // drift -300

	assert.Nil(t, e.Evaluate(host, client, 0, 6000))
}

func TestEvaluateModerateDriftSeeksGradually(t *testing.T) {
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 45000, true, 1000)
	client := snapshot("A", 48500, true, 6000) // drift -1500

	c := e.Evaluate(host, client, 0, 6000)
	require.NotNil(t, c)
	assert.Equal(t, models.ActionSeek, c.Action)
	assert.True(t, c.Gradual)
	assert.Equal(t, int64(50000), c.PositionMs)
}

func TestEvaluatePausedHostNeverProjects(t *testing.T) {
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 30000, false, 1000)

	// However much time elapses, the target stays at the paused position.
	for _, now := range []int64{1000, 10000, 500000, 10000000} {
		client := snapshot("A", 30000, false, now)
		assert.Nil(t, e.Evaluate(host, client, 0, now), "now=%d", now)
	}

	client := snapshot("A", 34000, false, 900000)
	c := e.Evaluate(host, client, 0, 900000)
	require.NotNil(t, c)
	assert.Equal(t, int64(30000), c.PositionMs)
}

func TestEvaluateTrackMismatchDominates(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Regardless of drift magnitude the action is switch_track, never seek.
	for _, clientPos := range []int64{0, 45000, 45200, 49700, 1000000} {
		host := snapshot("B", 0, true, 6000)
		client := snapshot("A", clientPos, true, 6000)

		c := e.Evaluate(host, client, 0, 6000)
		require.NotNil(t, c)
		assert.Equal(t, models.ActionSwitchTrack, c.Action)
		assert.Equal(t, "B", c.TrackID)
		assert.Equal(t, int64(0), c.PositionMs)
	}
}

func TestEvaluatePlayStateMismatchOverridesDrift(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Client perfectly positioned but paused while host plays.
	host := snapshot("A", 45000, true, 1000)
	client := snapshot("A", 50000, false, 6000)
	c := e.Evaluate(host, client, 0, 6000)
	require.NotNil(t, c)
	assert.Equal(t, models.ActionPlay, c.Action)

	// Host paused, client still playing.
	host = snapshot("A", 45000, false, 1000)
	client = snapshot("A", 45100, true, 6000)
	c = e.Evaluate(host, client, 0, 6000)
	require.NotNil(t, c)
	assert.Equal(t, models.ActionPause, c.Action)
}

func TestEvaluateAppliesClientOffset(t *testing.T) {
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 45000, true, 1000)

	// Offset shifts the target: client at 48000 with -2000 offset is in sync.
	client := snapshot("A", 48000, true, 6000)
	assert.Nil(t, e.Evaluate(host, client, -2000, 6000))

	// Same client without the offset drifts into the gradual band.
	c := e.Evaluate(host, client, 0, 6000)
	require.NotNil(t, c)
	assert.True(t, c.Gradual)
}

func TestEvaluateSeverityIsMonotonic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	severity := func(c *models.Correction) int {
		switch {
		case c == nil:
			return 0
		case c.Gradual:
			return 1
		default:
			return 2
		}
	}

	host := snapshot("A", 0, false, 0)
	prev := -1
	for _, d := range []int64{0, 100, 499, 500, 1000, 2999, 3000, 10000} {
		client := snapshot("A", d, false, 0)
		s := severity(e.Evaluate(host, client, 0, 0))
		assert.GreaterOrEqual(t, s, prev, "drift=%d", d)
		prev = s
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 45000, true, 1000)
	client := snapshot("A", 48500, true, 6000)

	first := e.Evaluate(host, client, 250, 6000)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(host, client, 250, 6000))
	}
}

func TestEvaluateCustomBands(t *testing.T) {
	e := NewEngine(Config{FairThresholdMs: 1000, PoorThresholdMs: 2000})
	host := snapshot("A", 0, false, 0)

	assert.Nil(t, e.Evaluate(host, snapshot("A", 800, false, 0), 0, 0))

	c := e.Evaluate(host, snapshot("A", 1500, false, 0), 0, 0)
	require.NotNil(t, c)
	assert.True(t, c.Gradual)

	c = e.Evaluate(host, snapshot("A", 2500, false, 0), 0, 0)
	require.NotNil(t, c)
	assert.False(t, c.Gradual)
}

func TestDrift(t *testing.T) {
	e := NewEngine(DefaultConfig())
	host := snapshot("A", 45000, true, 1000)
	client := snapshot("A", 45200, true, 6000)

	d, ok := e.Drift(host, client, 0, 6000)
	require.True(t, ok)
	assert.Equal(t, int64(-4800), d)

	_, ok = e.Drift(nil, client, 0, 6000)
	assert.False(t, ok)
	_, ok = e.Drift(host, nil, 0, 6000)
	assert.False(t, ok)
	_, ok = e.Drift(host, snapshot("B", 45200, true, 6000), 0, 6000)
	assert.False(t, ok)
}

func TestQualityBands(t *testing.T) {
	e := NewEngine(DefaultConfig())

	tests := []struct {
		driftMs int64
		want    models.SyncQuality
	}{
		{0, models.QualityExcellent},
		{-99, models.QualityExcellent},
		{100, models.QualityGood},
		{-499, models.QualityGood},
		{500, models.QualityFair},
		{-2999, models.QualityFair},
		{3000, models.QualityPoor},
		{-100000, models.QualityPoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Quality(tt.driftMs), "drift=%d", tt.driftMs)
	}
}
