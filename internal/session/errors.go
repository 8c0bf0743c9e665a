package session

import "errors"

var (
	// ErrSessionNotFound is returned when a session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned for operations against an ended session.
	ErrSessionEnded = errors.New("session ended")
	// ErrSessionFull is returned when a different client already holds the
	// client slot.
	ErrSessionFull = errors.New("session full")
	// ErrCapacityExceeded is returned when the concurrent-session limit is
	// reached.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrForbidden is returned on a role or identity mismatch. Not retryable
	// with the same identity.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid is returned for malformed input that has no safe default.
	ErrInvalid = errors.New("invalid request")
)
