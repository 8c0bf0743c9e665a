package spotify

import (
	"context"

	"github.com/ljungh/tandem/internal/clock"
	"github.com/ljungh/tandem/internal/models"
	"github.com/ljungh/tandem/internal/peer"
)

// Adapter exposes the Spotify client through the peer capability interface.
type Adapter struct {
	client *Client
	clock  clock.Clock
}

// NewAdapter wraps a Spotify client for use as a playback controller.
func NewAdapter(client *Client, clk clock.Clock) *Adapter {
	return &Adapter{client: client, clock: clk}
}

var _ peer.Controller = (*Adapter)(nil)

// Authenticate implements peer.Controller.
func (a *Adapter) Authenticate(ctx context.Context) error {
	return a.client.Authorize(ctx)
}

// CurrentPlayback implements peer.Controller.
func (a *Adapter) CurrentPlayback(ctx context.Context) (*models.PlaybackSnapshot, error) {
	state, err := a.client.CurrentPlayback(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Item == nil {
		return nil, nil
	}
	return &models.PlaybackSnapshot{
		TrackID:      state.Item.URI,
		PositionMs:   state.ProgressMs,
		IsPlaying:    state.IsPlaying,
		ReportedAtMs: clock.NowMs(a.clock),
	}, nil
}

// Play implements peer.Controller.
func (a *Adapter) Play(ctx context.Context, trackID string, positionMs int64) error {
	return a.client.Play(ctx, trackID, positionMs)
}

// Pause implements peer.Controller.
func (a *Adapter) Pause(ctx context.Context) error {
	return a.client.Pause(ctx)
}

// Seek implements peer.Controller.
func (a *Adapter) Seek(ctx context.Context, positionMs int64) error {
	return a.client.Seek(ctx, positionMs)
}
