package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljungh/tandem/internal/models"
	"github.com/ljungh/tandem/internal/session"
)

// mockCoordinator lets each test stub exactly the calls it expects.
type mockCoordinator struct {
	createFn      func(hostUserID string) (*session.View, error)
	joinFn        func(sessionID, userID, connectionID string) (*session.JoinResult, error)
	attachFn      func(sessionID, userID, connectionID string) error
	hostStateFn   func(sessionID, connectionID string, snap models.PlaybackSnapshot) error
	clientStateFn func(sessionID, connectionID string, snap models.PlaybackSnapshot) error
	offsetFn      func(sessionID, userID string, offsetMs int64) (int64, error)
	requestSyncFn func(sessionID, connectionID string) error
	getStateFn    func(sessionID string) (*session.View, error)
	endFn         func(sessionID, userID string) error
	disconnects   []string
}

func (m *mockCoordinator) CreateSession(hostUserID string) (*session.View, error) {
	return m.createFn(hostUserID)
}

func (m *mockCoordinator) JoinSession(sessionID, userID, connectionID string) (*session.JoinResult, error) {
	return m.joinFn(sessionID, userID, connectionID)
}

func (m *mockCoordinator) AttachHost(sessionID, userID, connectionID string) error {
	return m.attachFn(sessionID, userID, connectionID)
}

func (m *mockCoordinator) ReportHostState(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
	return m.hostStateFn(sessionID, connectionID, snap)
}

func (m *mockCoordinator) ReportClientState(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
	return m.clientStateFn(sessionID, connectionID, snap)
}

func (m *mockCoordinator) UpdateOffset(sessionID, userID string, offsetMs int64) (int64, error) {
	return m.offsetFn(sessionID, userID, offsetMs)
}

func (m *mockCoordinator) RequestImmediateSync(sessionID, connectionID string) error {
	return m.requestSyncFn(sessionID, connectionID)
}

func (m *mockCoordinator) GetState(sessionID string) (*session.View, error) {
	return m.getStateFn(sessionID)
}

func (m *mockCoordinator) EndSession(sessionID, userID string) error {
	return m.endFn(sessionID, userID)
}

func (m *mockCoordinator) PeerDisconnected(sessionID, connectionID string) {
	m.disconnects = append(m.disconnects, connectionID)
}

func newTestRouter(coord Coordinator) *mux.Router {
	r := mux.NewRouter()
	NewRestAPI(coord).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRestCreateSession(t *testing.T) {
	coord := &mockCoordinator{
		createFn: func(hostUserID string) (*session.View, error) {
			assert.Equal(t, "alice", hostUserID)
			return &session.View{SessionID: "ABC123", State: models.SessionStateIdle, HostUserID: "alice"}, nil
		},
	}
	rec := doJSON(t, newTestRouter(coord), http.MethodPost, "/api/sessions", `{"host_user_id":"alice"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id":"ABC123"`)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)
}

func TestRestCreateSessionBadBody(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockCoordinator{}), http.MethodPost, "/api/sessions", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRestJoinRegistersWithoutConnection(t *testing.T) {
	coord := &mockCoordinator{
		joinFn: func(sessionID, userID, connectionID string) (*session.JoinResult, error) {
			assert.Equal(t, "ABC123", sessionID)
			assert.Equal(t, "bob", userID)
			assert.Empty(t, connectionID)
			return &session.JoinResult{
				SessionID: sessionID, Role: models.PeerRoleClient,
				HostUserID: "alice", State: models.SessionStateActive,
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(coord), http.MethodPost, "/api/sessions/ABC123/join", `{"user_id":"bob"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"client"`)
}

func TestRestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{session.ErrSessionNotFound, http.StatusNotFound},
		{session.ErrForbidden, http.StatusForbidden},
		{session.ErrSessionFull, http.StatusConflict},
		{session.ErrCapacityExceeded, http.StatusConflict},
		{session.ErrSessionEnded, http.StatusGone},
		{session.ErrInvalid, http.StatusBadRequest},
	}

	for _, tc := range cases {
		coord := &mockCoordinator{
			joinFn: func(sessionID, userID, connectionID string) (*session.JoinResult, error) {
				return nil, tc.err
			},
		}
		rec := doJSON(t, newTestRouter(coord), http.MethodPost, "/api/sessions/ABC123/join", `{"user_id":"bob"}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestRestUpdateOffsetEchoesClampedValue(t *testing.T) {
	coord := &mockCoordinator{
		offsetFn: func(sessionID, userID string, offsetMs int64) (int64, error) {
			assert.Equal(t, int64(9000), offsetMs)
			return 5000, nil
		},
	}
	rec := doJSON(t, newTestRouter(coord), http.MethodPut, "/api/sessions/ABC123/offset", `{"user_id":"bob","offset_ms":9000}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"offset_ms":5000`)
}

func TestRestGetState(t *testing.T) {
	coord := &mockCoordinator{
		getStateFn: func(sessionID string) (*session.View, error) {
			return &session.View{
				SessionID: sessionID, State: models.SessionStateActive,
				HostUserID: "alice", ClientUserID: "bob",
				Drift: &models.DriftReport{DriftMs: -200, Quality: models.QualityGood},
			}, nil
		},
	}
	rec := doJSON(t, newTestRouter(coord), http.MethodGet, "/api/sessions/ABC123", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"quality":"good"`)
}

func TestRestEndSession(t *testing.T) {
	coord := &mockCoordinator{
		endFn: func(sessionID, userID string) error {
			assert.Equal(t, "ABC123", sessionID)
			assert.Equal(t, "alice", userID)
			return nil
		},
	}
	rec := doJSON(t, newTestRouter(coord), http.MethodDelete, "/api/sessions/ABC123?user_id=alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, newTestRouter(coord), http.MethodDelete, "/api/sessions/ABC123", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user_id query parameter is required")
}
