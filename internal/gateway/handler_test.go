package gateway

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljungh/tandem/internal/models"
	"github.com/ljungh/tandem/internal/session"
)

func newTestHandler(coord Coordinator) *Handler {
	cm := NewConnectionManager(DefaultConnectionConfig())
	return NewHandler(cm, coord, clockwork.NewFakeClock())
}

func TestHandleMessageJoinBindsConnection(t *testing.T) {
	coord := &mockCoordinator{
		joinFn: func(sessionID, userID, connectionID string) (*session.JoinResult, error) {
			assert.Equal(t, "conn-1", connectionID)
			return &session.JoinResult{SessionID: sessionID, Role: models.PeerRoleClient}, nil
		},
	}
	h := newTestHandler(coord)

	c := &Connection{ID: "conn-1"}
	h.HandleMessage(c, []byte(`{"type":"join_session","payload":{"session_id":"ABC123","role":"client","user_id":"bob"}}`))

	assert.Equal(t, "ABC123", c.SessionID)
	assert.Equal(t, "bob", c.UserID)
	assert.Equal(t, models.PeerRoleClient, c.Role)
	assert.True(t, c.Bound())
}

func TestHandleMessageHostJoinAttaches(t *testing.T) {
	attached := false
	coord := &mockCoordinator{
		attachFn: func(sessionID, userID, connectionID string) error {
			attached = true
			assert.Equal(t, "alice", userID)
			return nil
		},
	}
	h := newTestHandler(coord)

	c := &Connection{ID: "conn-h"}
	h.HandleMessage(c, []byte(`{"type":"join_session","payload":{"session_id":"ABC123","role":"host","user_id":"alice"}}`))

	assert.True(t, attached)
	assert.Equal(t, models.PeerRoleHost, c.Role)
}

func TestHandleMessageJoinFailureLeavesConnectionUnbound(t *testing.T) {
	coord := &mockCoordinator{
		joinFn: func(sessionID, userID, connectionID string) (*session.JoinResult, error) {
			return nil, session.ErrSessionFull
		},
	}
	h := newTestHandler(coord)

	c := &Connection{ID: "conn-1"}
	h.HandleMessage(c, []byte(`{"type":"join_session","payload":{"session_id":"ABC123","role":"client","user_id":"mallory"}}`))

	assert.False(t, c.Bound())
}

func TestHandleMessageRoutesPlaybackStateByRole(t *testing.T) {
	var hostCalls, clientCalls int
	coord := &mockCoordinator{
		hostStateFn: func(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
			hostCalls++
			assert.Equal(t, "track-a", snap.TrackID)
			assert.NotZero(t, snap.ReportedAtMs, "missing timestamp is filled in")
			return nil
		},
		clientStateFn: func(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
			clientCalls++
			return nil
		},
	}
	h := newTestHandler(coord)

	frame := []byte(`{"type":"playback_state","payload":{"track_id":"track-a","position_ms":1000,"is_playing":true}}`)

	host := &Connection{ID: "conn-h", SessionID: "ABC123", UserID: "alice", Role: models.PeerRoleHost}
	h.HandleMessage(host, frame)
	require.Equal(t, 1, hostCalls)
	require.Equal(t, 0, clientCalls)

	client := &Connection{ID: "conn-c", SessionID: "ABC123", UserID: "bob", Role: models.PeerRoleClient}
	h.HandleMessage(client, frame)
	require.Equal(t, 1, hostCalls)
	require.Equal(t, 1, clientCalls)
}

func TestHandleMessagePlaybackStateRequiresBinding(t *testing.T) {
	called := false
	coord := &mockCoordinator{
		hostStateFn: func(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
			called = true
			return nil
		},
	}
	h := newTestHandler(coord)

	c := &Connection{ID: "conn-1"}
	h.HandleMessage(c, []byte(`{"type":"playback_state","payload":{"track_id":"track-a"}}`))
	assert.False(t, called)
}

func TestHandleMessageRequestSyncClientOnly(t *testing.T) {
	var calls int
	coord := &mockCoordinator{
		requestSyncFn: func(sessionID, connectionID string) error {
			calls++
			assert.Equal(t, "ABC123", sessionID)
			return nil
		},
	}
	h := newTestHandler(coord)

	frame := []byte(`{"type":"request_sync","payload":{"session_id":"ABC123"}}`)

	host := &Connection{ID: "conn-h", SessionID: "ABC123", UserID: "alice", Role: models.PeerRoleHost}
	h.HandleMessage(host, frame)
	assert.Equal(t, 0, calls)

	client := &Connection{ID: "conn-c", SessionID: "ABC123", UserID: "bob", Role: models.PeerRoleClient}
	h.HandleMessage(client, frame)
	assert.Equal(t, 1, calls)
}

func TestHandleMessageMalformedFrameIsRejectedQuietly(t *testing.T) {
	h := newTestHandler(&mockCoordinator{})
	c := &Connection{ID: "conn-1"}

	h.HandleMessage(c, []byte(`garbage`))
	h.HandleMessage(c, []byte(`{"type":"teleport"}`))
	h.HandleMessage(c, []byte(`{"type":"join_session","payload":{"session_id":""}}`))
	assert.False(t, c.Bound())
}

func TestHandleDisconnectReportsBoundConnections(t *testing.T) {
	coord := &mockCoordinator{}
	h := newTestHandler(coord)

	h.HandleDisconnect(&Connection{ID: "conn-unbound"})
	assert.Empty(t, coord.disconnects)

	h.HandleDisconnect(&Connection{ID: "conn-1", SessionID: "ABC123", UserID: "bob", Role: models.PeerRoleClient})
	assert.Equal(t, []string{"conn-1"}, coord.disconnects)
}
