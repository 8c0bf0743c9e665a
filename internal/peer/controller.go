package peer

import (
	"context"

	"github.com/ljungh/tandem/internal/models"
)

// Controller is the narrow capability interface onto the device-local
// playback engine. The coordinator core never implements it; the agent
// consumes it to sample local state and to execute corrections, and tests
// substitute a deterministic fake.
type Controller interface {
	// Authenticate prepares the underlying playback account for use.
	Authenticate(ctx context.Context) error
	// CurrentPlayback samples the device's playback state. A nil snapshot
	// with nil error means nothing is playing.
	CurrentPlayback(ctx context.Context) (*models.PlaybackSnapshot, error)
	// Play starts the given track at the given position; an empty track ID
	// resumes the current one.
	Play(ctx context.Context, trackID string, positionMs int64) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int64) error
}
