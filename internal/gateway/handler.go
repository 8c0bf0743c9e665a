package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/clock"
	"github.com/ljungh/tandem/internal/models"
	"github.com/ljungh/tandem/internal/session"
)

// Coordinator defines what the gateway needs from the session app.
type Coordinator interface {
	CreateSession(hostUserID string) (*session.View, error)
	JoinSession(sessionID, userID, connectionID string) (*session.JoinResult, error)
	AttachHost(sessionID, userID, connectionID string) error
	ReportHostState(sessionID, connectionID string, snap models.PlaybackSnapshot) error
	ReportClientState(sessionID, connectionID string, snap models.PlaybackSnapshot) error
	UpdateOffset(sessionID, userID string, offsetMs int64) (int64, error)
	RequestImmediateSync(sessionID, connectionID string) error
	GetState(sessionID string) (*session.View, error)
	EndSession(sessionID, userID string) error
	PeerDisconnected(sessionID, connectionID string)
}

// Handler dispatches decoded event-surface messages to the coordinator. It
// is the typed replacement for ad hoc event callbacks: one table, no
// persistent closures held across session lifetime.
type Handler struct {
	cm    *ConnectionManager
	coord Coordinator
	clock clock.Clock
}

// NewHandler wires the dispatcher to the connection manager.
func NewHandler(cm *ConnectionManager, coord Coordinator, clk clock.Clock) *Handler {
	h := &Handler{cm: cm, coord: coord, clock: clk}
	cm.SetHandler(h)
	return h
}

// HandleWS upgrades an event-surface connection.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := h.cm.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleMessage implements MessageHandler. Malformed messages are rejected
// with an error frame and logged; the connection stays up.
func (h *Handler) HandleMessage(c *Connection, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		h.reject(c, err)
		return
	}
	payload, err := DecodePayload(env)
	if err != nil {
		h.reject(c, err)
		return
	}

	switch p := payload.(type) {
	case *JoinSessionPayload:
		h.handleJoin(c, p)
	case *PlaybackStatePayload:
		h.handlePlaybackState(c, p)
	case *RequestSyncPayload:
		h.handleRequestSync(c, p)
	}
}

// HandleDisconnect implements MessageHandler.
func (h *Handler) HandleDisconnect(c *Connection) {
	if !c.Bound() {
		return
	}
	h.coord.PeerDisconnected(c.SessionID, c.ID)
}

func (h *Handler) handleJoin(c *Connection, p *JoinSessionPayload) {
	var err error
	switch p.Role {
	case models.PeerRoleHost:
		err = h.coord.AttachHost(p.SessionID, p.UserID, c.ID)
	case models.PeerRoleClient:
		_, err = h.coord.JoinSession(p.SessionID, p.UserID, c.ID)
	}
	if err != nil {
		h.reject(c, err)
		return
	}

	c.SessionID = p.SessionID
	c.UserID = p.UserID
	c.Role = p.Role

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", p.SessionID).
		Str("user_id", p.UserID).
		Str("role", string(p.Role)).
		Msg("connection bound to session")
}

func (h *Handler) handlePlaybackState(c *Connection, p *PlaybackStatePayload) {
	if !c.Bound() {
		h.reject(c, session.ErrForbidden)
		return
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = c.SessionID
	}

	snap := p.Snapshot(clock.NowMs(h.clock))
	var err error
	switch c.Role {
	case models.PeerRoleHost:
		err = h.coord.ReportHostState(sessionID, c.ID, snap)
	case models.PeerRoleClient:
		err = h.coord.ReportClientState(sessionID, c.ID, snap)
	}
	if err != nil {
		h.reject(c, err)
	}
}

func (h *Handler) handleRequestSync(c *Connection, p *RequestSyncPayload) {
	if !c.Bound() || c.Role != models.PeerRoleClient {
		h.reject(c, session.ErrForbidden)
		return
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = c.SessionID
	}
	if err := h.coord.RequestImmediateSync(sessionID, c.ID); err != nil {
		h.reject(c, err)
	}
}

func (h *Handler) reject(c *Connection, err error) {
	log.Warn().
		Err(err).
		Str("connection_id", c.ID).
		Msg("rejected inbound message")

	data, encErr := EncodeError(err.Error())
	if encErr != nil {
		return
	}
	h.cm.send(c.ID, data)
}
