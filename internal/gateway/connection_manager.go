package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/models"
)

// ConnectionConfig holds websocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// MessageHandler defines what the connection manager needs from the message
// dispatcher.
type MessageHandler interface {
	HandleMessage(c *Connection, data []byte)
	HandleDisconnect(c *Connection)
}

// Connection is one live peer websocket. It starts unbound; a join_session
// message binds it to a (session, role) pair, after which inbound messages
// are authenticated by connection identity rather than by restating session
// trust on every call.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Bound identity; written only from the connection's read loop.
	SessionID string
	UserID    string
	Role      models.PeerRole

	ConnectedAt time.Time
}

// Bound reports whether the connection has joined a session.
func (c *Connection) Bound() bool {
	return c.SessionID != ""
}

// ConnectionManager owns the live mapping from connection identity to peer,
// the read/write pumps, and outbound delivery. Delivery to a connection that
// is gone or back-pressured is dropped, never queued; the next evaluation
// cycle recomputes and re-attempts.
type ConnectionManager struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler
}

// NewConnectionManager creates a connection manager. The message handler is
// bound afterwards to break the construction cycle with the session app.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// SetHandler binds the inbound message dispatcher.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// UpgradeConnection upgrades an HTTP request to a websocket and starts its
// pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.conns[c.ID] = c
	cm.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	if _, ok := cm.conns[c.ID]; ok {
		delete(cm.conns, c.ID)
		close(c.Send)
	}
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", c.SessionID).
		Msg("connection unregistered")
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// send delivers a frame to a connection if it is live, dropping otherwise.
func (cm *ConnectionManager) send(connectionID string, data []byte) {
	if connectionID == "" {
		return
	}

	cm.mu.RLock()
	c, ok := cm.conns[connectionID]
	cm.mu.RUnlock()
	if !ok {
		log.Debug().
			Str("connection_id", connectionID).
			Msg("peer not connected, dropping outbound message")
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("send buffer full, dropping outbound message")
	}
}

// SendSyncCommand implements session.Notifier.
func (cm *ConnectionManager) SendSyncCommand(connectionID string, corr *models.Correction) {
	data, err := EncodeSyncCommand(corr)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode sync command")
		return
	}
	cm.send(connectionID, data)
}

// SendSyncStatus implements session.Notifier.
func (cm *ConnectionManager) SendSyncStatus(connectionID string, r models.DriftReport, lastSyncAtMs int64) {
	data, err := EncodeSyncStatus(r, lastSyncAtMs)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode sync status")
		return
	}
	cm.send(connectionID, data)
}

// SendSessionEnded implements session.Notifier.
func (cm *ConnectionManager) SendSessionEnded(connectionID string, reason models.EndReason) {
	data, err := EncodeSessionEnded(reason)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode session_ended")
		return
	}
	cm.send(connectionID, data)
}

// writePump serializes all writes to the websocket and keeps the connection
// alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames and hands them to the dispatcher. Malformed
// frames are rejected and logged there; they never crash the connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
		if c.Manager.handler != nil {
			c.Manager.handler.HandleDisconnect(c)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
