package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/ljungh/tandem/internal/models"
)

// MessageType discriminates envelopes on the event surface.
type MessageType string

const (
	// peer -> coordinator
	MessageTypeJoinSession   MessageType = "join_session"
	MessageTypePlaybackState MessageType = "playback_state"
	MessageTypeRequestSync   MessageType = "request_sync"

	// coordinator -> peer
	MessageTypeSyncCommand  MessageType = "sync_command"
	MessageTypeSessionEnded MessageType = "session_ended"
	MessageTypeSyncStatus   MessageType = "sync_status"
	MessageTypeError        MessageType = "error"
)

// Envelope is the wire format for every event-surface message: a type tag
// plus a type-specific payload decoded lazily.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinSessionPayload binds a connection to a session slot.
type JoinSessionPayload struct {
	SessionID string          `json:"session_id"`
	Role      models.PeerRole `json:"role"`
	UserID    string          `json:"user_id"`
}

// PlaybackStatePayload is a peer's self-reported playback snapshot.
type PlaybackStatePayload struct {
	SessionID   string `json:"session_id"`
	TrackID     string `json:"track_id"`
	PositionMs  int64  `json:"position_ms"`
	IsPlaying   bool   `json:"is_playing"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Snapshot converts the payload to the model type. A zero timestamp is
// filled with nowMs so peers without a synchronized clock still produce a
// usable report.
func (p *PlaybackStatePayload) Snapshot(nowMs int64) models.PlaybackSnapshot {
	reportedAt := p.TimestampMs
	if reportedAt == 0 {
		reportedAt = nowMs
	}
	return models.PlaybackSnapshot{
		TrackID:      p.TrackID,
		PositionMs:   p.PositionMs,
		IsPlaying:    p.IsPlaying,
		ReportedAtMs: reportedAt,
	}
}

// RequestSyncPayload forces one evaluation cycle. Client only.
type RequestSyncPayload struct {
	SessionID string `json:"session_id"`
}

// SessionEndedPayload tells a peer its session is gone.
type SessionEndedPayload struct {
	Reason models.EndReason `json:"reason"`
}

// SyncStatusPayload reports drift health to the client.
type SyncStatusPayload struct {
	DriftMs      int64              `json:"drift_ms"`
	LastSyncAtMs int64              `json:"last_sync_at_ms"`
	Quality      models.SyncQuality `json:"quality"`
}

// ErrorPayload reports a rejected inbound message without closing the
// connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeEnvelope validates shape and type of an inbound frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	switch env.Type {
	case MessageTypeJoinSession, MessageTypePlaybackState, MessageTypeRequestSync:
		return &env, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// DecodePayload unmarshals the envelope's payload into the struct for its
// type.
func DecodePayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case MessageTypeJoinSession:
		var p JoinSessionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		if p.SessionID == "" || p.UserID == "" || !p.Role.IsValid() {
			return nil, fmt.Errorf("incomplete %s payload", env.Type)
		}
		return &p, nil

	case MessageTypePlaybackState:
		var p PlaybackStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		if p.TrackID == "" {
			return nil, fmt.Errorf("incomplete %s payload", env.Type)
		}
		return &p, nil

	case MessageTypeRequestSync:
		var p RequestSyncPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return &p, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func marshalEnvelope(t MessageType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// EncodeSyncCommand frames a correction for the wire.
func EncodeSyncCommand(c *models.Correction) ([]byte, error) {
	return marshalEnvelope(MessageTypeSyncCommand, c)
}

// EncodeSessionEnded frames a session_ended notification.
func EncodeSessionEnded(reason models.EndReason) ([]byte, error) {
	return marshalEnvelope(MessageTypeSessionEnded, SessionEndedPayload{Reason: reason})
}

// EncodeSyncStatus frames a sync_status report.
func EncodeSyncStatus(r models.DriftReport, lastSyncAtMs int64) ([]byte, error) {
	return marshalEnvelope(MessageTypeSyncStatus, SyncStatusPayload{
		DriftMs:      r.DriftMs,
		LastSyncAtMs: lastSyncAtMs,
		Quality:      r.Quality,
	})
}

// EncodeError frames a rejection notice.
func EncodeError(msg string) ([]byte, error) {
	return marshalEnvelope(MessageTypeError, ErrorPayload{Message: msg})
}
