package peer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljungh/tandem/internal/gateway"
	"github.com/ljungh/tandem/internal/models"
)

type controllerCall struct {
	Name       string
	TrackID    string
	PositionMs int64
}

// fakeController records playback commands; CurrentPlayback reports nothing
// playing so the agent stays quiet on the wire.
type fakeController struct {
	calls []controllerCall
}

func (f *fakeController) Authenticate(ctx context.Context) error { return nil }

func (f *fakeController) CurrentPlayback(ctx context.Context) (*models.PlaybackSnapshot, error) {
	return nil, nil
}

func (f *fakeController) Play(ctx context.Context, trackID string, positionMs int64) error {
	f.calls = append(f.calls, controllerCall{Name: "play", TrackID: trackID, PositionMs: positionMs})
	return nil
}

func (f *fakeController) Pause(ctx context.Context) error {
	f.calls = append(f.calls, controllerCall{Name: "pause"})
	return nil
}

func (f *fakeController) Seek(ctx context.Context, positionMs int64) error {
	f.calls = append(f.calls, controllerCall{Name: "seek", PositionMs: positionMs})
	return nil
}

func newTestAgent(ctrl Controller) *Agent {
	return NewAgent(Config{
		SessionID: "ABC123",
		UserID:    "bob",
		Role:      models.PeerRoleClient,
	}, ctrl, clockwork.NewFakeClock())
}

func envelope(t *testing.T, msgType gateway.MessageType, payload interface{}) gateway.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return gateway.Envelope{Type: msgType, Payload: raw}
}

func TestExecuteRoutesActions(t *testing.T) {
	ctrl := &fakeController{}
	agent := newTestAgent(ctrl)
	ctx := context.Background()

	require.NoError(t, agent.execute(ctx, &models.Correction{Action: models.ActionPlay}))
	require.NoError(t, agent.execute(ctx, &models.Correction{Action: models.ActionPause}))
	require.NoError(t, agent.execute(ctx, &models.Correction{Action: models.ActionSeek, PositionMs: 50000}))
	require.NoError(t, agent.execute(ctx, &models.Correction{
		Action: models.ActionSwitchTrack, TrackID: "spotify:track:abc", PositionMs: 1000,
	}))

	assert.Equal(t, []controllerCall{
		{Name: "play"},
		{Name: "pause"},
		{Name: "seek", PositionMs: 50000},
		{Name: "play", TrackID: "spotify:track:abc", PositionMs: 1000},
	}, ctrl.calls)

	err := agent.execute(ctx, &models.Correction{Action: "teleport"})
	assert.Error(t, err)
}

func TestHandleInboundSyncCommand(t *testing.T) {
	ctrl := &fakeController{}
	agent := newTestAgent(ctrl)

	done, err := agent.handleInbound(context.Background(), envelope(t, gateway.MessageTypeSyncCommand, models.Correction{
		Action: models.ActionSeek, PositionMs: 45000,
	}))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []controllerCall{{Name: "seek", PositionMs: 45000}}, ctrl.calls)
}

func TestHandleInboundSessionEnded(t *testing.T) {
	agent := newTestAgent(&fakeController{})

	done, err := agent.handleInbound(context.Background(), envelope(t, gateway.MessageTypeSessionEnded, gateway.SessionEndedPayload{
		Reason: models.EndReasonHostEnded,
	}))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestHandleInboundStatusAndErrorsKeepRunning(t *testing.T) {
	agent := newTestAgent(&fakeController{})
	ctx := context.Background()

	done, err := agent.handleInbound(ctx, envelope(t, gateway.MessageTypeSyncStatus, gateway.SyncStatusPayload{
		DriftMs: -300, Quality: models.QualityGood,
	}))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = agent.handleInbound(ctx, envelope(t, gateway.MessageTypeError, gateway.ErrorPayload{Message: "nope"}))
	require.NoError(t, err)
	assert.False(t, done)

	done, err = agent.handleInbound(ctx, gateway.Envelope{Type: "mystery"})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestHandleInboundMalformedSyncCommand(t *testing.T) {
	agent := newTestAgent(&fakeController{})

	done, err := agent.handleInbound(context.Background(), gateway.Envelope{
		Type:    gateway.MessageTypeSyncCommand,
		Payload: json.RawMessage(`{broken`),
	})
	assert.Error(t, err)
	assert.False(t, done)
}
