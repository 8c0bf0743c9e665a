// Package peer is the headless device-side agent: it binds to a session
// over the coordinator's event surface, reports the local playback state,
// and (as client) executes the corrections it is sent.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/clock"
	"github.com/ljungh/tandem/internal/gateway"
	"github.com/ljungh/tandem/internal/models"
)

// Config identifies the session slot this agent fills.
type Config struct {
	// ServerURL is the coordinator's websocket endpoint, e.g.
	// ws://localhost:8080/ws.
	ServerURL      string
	SessionID      string
	UserID         string
	Role           models.PeerRole
	ReportInterval time.Duration
}

// Agent runs one peer's side of the protocol.
type Agent struct {
	cfg   Config
	ctrl  Controller
	clock clock.Clock
	conn  *websocket.Conn
}

// NewAgent creates a peer agent.
func NewAgent(cfg Config, ctrl Controller, clk clock.Clock) *Agent {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Second
	}
	return &Agent{cfg: cfg, ctrl: ctrl, clock: clk}
}

// Run connects, joins the session and services the protocol until the
// session ends, the context is cancelled, or the connection fails.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.ctrl.Authenticate(ctx); err != nil {
		return fmt.Errorf("playback authentication failed: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	a.conn = conn
	defer conn.Close()

	if err := a.sendEnvelope(gateway.MessageTypeJoinSession, gateway.JoinSessionPayload{
		SessionID: a.cfg.SessionID,
		Role:      a.cfg.Role,
		UserID:    a.cfg.UserID,
	}); err != nil {
		return err
	}

	log.Info().
		Str("session_id", a.cfg.SessionID).
		Str("role", string(a.cfg.Role)).
		Msg("joined session")

	inbound := make(chan gateway.Envelope)
	readErr := make(chan error, 1)
	go a.readLoop(inbound, readErr)

	ticker := a.clock.NewTicker(a.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("connection lost: %w", err)

		case <-ticker.Chan():
			if err := a.reportState(ctx); err != nil {
				log.Warn().Err(err).Msg("state report failed")
			}

		case env := <-inbound:
			done, err := a.handleInbound(ctx, env)
			if err != nil {
				log.Warn().Err(err).Str("type", string(env.Type)).Msg("inbound message handling failed")
			}
			if done {
				return nil
			}
		}
	}
}

func (a *Agent) readLoop(inbound chan<- gateway.Envelope, readErr chan<- error) {
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		var env gateway.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		inbound <- env
	}
}

func (a *Agent) reportState(ctx context.Context) error {
	snap, err := a.ctrl.CurrentPlayback(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		// Nothing playing on this device; nothing to report.
		return nil
	}
	return a.sendEnvelope(gateway.MessageTypePlaybackState, gateway.PlaybackStatePayload{
		SessionID:   a.cfg.SessionID,
		TrackID:     snap.TrackID,
		PositionMs:  snap.PositionMs,
		IsPlaying:   snap.IsPlaying,
		TimestampMs: snap.ReportedAtMs,
	})
}

// handleInbound returns done=true when the session is over.
func (a *Agent) handleInbound(ctx context.Context, env gateway.Envelope) (bool, error) {
	switch env.Type {
	case gateway.MessageTypeSyncCommand:
		var corr models.Correction
		if err := json.Unmarshal(env.Payload, &corr); err != nil {
			return false, fmt.Errorf("malformed sync_command: %w", err)
		}
		if err := a.execute(ctx, &corr); err != nil {
			return false, err
		}
		// Report back right away so the coordinator sees the effect.
		return false, a.reportState(ctx)

	case gateway.MessageTypeSessionEnded:
		var p gateway.SessionEndedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return true, fmt.Errorf("malformed session_ended: %w", err)
		}
		log.Info().Str("reason", string(p.Reason)).Msg("session ended by coordinator")
		return true, nil

	case gateway.MessageTypeSyncStatus:
		var p gateway.SyncStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return false, fmt.Errorf("malformed sync_status: %w", err)
		}
		log.Debug().
			Int64("drift_ms", p.DriftMs).
			Str("quality", string(p.Quality)).
			Msg("sync status")
		return false, nil

	case gateway.MessageTypeError:
		var p gateway.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			log.Warn().Str("message", p.Message).Msg("coordinator rejected a message")
		}
		return false, nil

	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring unexpected message type")
		return false, nil
	}
}

func (a *Agent) execute(ctx context.Context, corr *models.Correction) error {
	log.Info().
		Str("action", string(corr.Action)).
		Str("track_id", corr.TrackID).
		Int64("position_ms", corr.PositionMs).
		Bool("gradual", corr.Gradual).
		Msg("executing correction")

	switch corr.Action {
	case models.ActionPlay:
		return a.ctrl.Play(ctx, "", 0)
	case models.ActionPause:
		return a.ctrl.Pause(ctx)
	case models.ActionSeek:
		return a.ctrl.Seek(ctx, corr.PositionMs)
	case models.ActionSwitchTrack:
		return a.ctrl.Play(ctx, corr.TrackID, corr.PositionMs)
	default:
		return fmt.Errorf("unknown correction action %q", corr.Action)
	}
}

func (a *Agent) sendEnvelope(t gateway.MessageType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(gateway.Envelope{Type: t, Payload: raw})
	if err != nil {
		return err
	}
	a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}
