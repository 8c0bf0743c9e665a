package models

// PeerRole identifies which side of a session a peer occupies.
type PeerRole string

const (
	PeerRoleHost   PeerRole = "host"
	PeerRoleClient PeerRole = "client"
)

// IsValid checks if the peer role is a known value
func (r PeerRole) IsValid() bool {
	return r == PeerRoleHost || r == PeerRoleClient
}

// SessionState represents the lifecycle state of a session
type SessionState string

const (
	// SessionStateIdle means the session has a host but no client yet
	SessionStateIdle SessionState = "idle"
	// SessionStateActive means both peers are registered
	SessionStateActive SessionState = "active"
	// SessionStateEnded is terminal; no operation may target an ended session
	SessionStateEnded SessionState = "ended"
)

// EndReason explains why a session transitioned to Ended.
type EndReason string

const (
	EndReasonHostEnded        EndReason = "host_ended"
	EndReasonHostDisconnected EndReason = "host_disconnected"
	EndReasonSessionExpired   EndReason = "session_expired"
)

// PeerRef ties a user identity to the live transport connection currently
// representing it. ConnectionID is replaced in place on reconnect; UserID
// never changes for the lifetime of the slot.
type PeerRef struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// Session binds exactly one host and at most one client for the duration of a
// synchronized listening period. The host slot is set at creation and never
// reassigned; the client slot is filled at most once, rejoin after a
// disconnect reuses it.
type Session struct {
	ID             string
	State          SessionState
	Host           *PeerRef
	Client         *PeerRef
	HostSnapshot   *PlaybackSnapshot
	ClientSnapshot *PlaybackSnapshot
	ClientOffsetMs int64
	CreatedAtMs    int64
	ExpiresAtMs    int64
	LastSyncAtMs   int64
	EndReason      EndReason
}

// ExpiredAt reports whether the session is logically dead at nowMs, even if
// it has not been garbage-collected yet.
func (s *Session) ExpiredAt(nowMs int64) bool {
	return nowMs >= s.ExpiresAtMs
}

// RemainingMs returns how much session lifetime is left at nowMs.
func (s *Session) RemainingMs(nowMs int64) int64 {
	if rem := s.ExpiresAtMs - nowMs; rem > 0 {
		return rem
	}
	return 0
}

// HasClient reports whether the client slot is occupied.
func (s *Session) HasClient() bool {
	return s.Client != nil
}
