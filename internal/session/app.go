package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/clock"
	"github.com/ljungh/tandem/internal/drift"
	"github.com/ljungh/tandem/internal/models"
)

// Notifier defines what the session app needs from the transport gateway.
// Implementations deliver to the named connection if it is live and drop the
// message otherwise; the next evaluation cycle recomputes and re-attempts.
type Notifier interface {
	SendSyncCommand(connectionID string, c *models.Correction)
	SendSyncStatus(connectionID string, r models.DriftReport, lastSyncAtMs int64)
	SendSessionEnded(connectionID string, reason models.EndReason)
}

// Config holds session lifecycle policy.
type Config struct {
	// SessionTTL is the fixed lifetime granted at creation.
	SessionTTL time.Duration
	// SyncInterval is the periodic re-evaluation interval per active session.
	SyncInterval time.Duration
	// HostGrace is the window a disconnected host has to reconnect before
	// the session ends. Capped at the session's remaining lifetime.
	HostGrace time.Duration
	// MaxSessions caps concurrent sessions; zero means unlimited.
	MaxSessions int
	// OffsetBoundMs bounds the client's manual offset. Out-of-range values
	// are clamped, not rejected.
	OffsetBoundMs int64
}

// DefaultConfig returns the documented lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:    4 * time.Hour,
		SyncInterval:  2 * time.Minute,
		HostGrace:     30 * time.Second,
		MaxSessions:   0,
		OffsetBoundMs: 5000,
	}
}

// App orchestrates session identity, membership and drift evaluation. Every
// mutation runs inside the session's critical section; corrections are
// computed under the lock and sent through the Notifier after release.
type App struct {
	store    *Store
	engine   *drift.Engine
	clock    clock.Clock
	notifier Notifier
	cfg      Config
	sched    *Scheduler
}

// NewApp creates the session manager.
func NewApp(store *Store, engine *drift.Engine, clk clock.Clock, notifier Notifier, cfg Config) *App {
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.HostGrace <= 0 {
		cfg.HostGrace = def.HostGrace
	}
	if cfg.OffsetBoundMs <= 0 {
		cfg.OffsetBoundMs = def.OffsetBoundMs
	}

	a := &App{
		store:    store,
		engine:   engine,
		clock:    clk,
		notifier: notifier,
		cfg:      cfg,
	}
	a.sched = NewScheduler(clk, a, cfg.SyncInterval)
	return a
}

// Close cancels every outstanding timer and waits for them to drain.
func (a *App) Close() {
	a.sched.Stop()
}

// View is the control-surface snapshot of a session.
type View struct {
	SessionID      string                   `json:"session_id"`
	State          models.SessionState      `json:"state"`
	HostUserID     string                   `json:"host_user_id"`
	ClientUserID   string                   `json:"client_user_id,omitempty"`
	HostSnapshot   *models.PlaybackSnapshot `json:"host_snapshot,omitempty"`
	ClientSnapshot *models.PlaybackSnapshot `json:"client_snapshot,omitempty"`
	ClientOffsetMs int64                    `json:"client_offset_ms"`
	CreatedAtMs    int64                    `json:"created_at_ms"`
	ExpiresAtMs    int64                    `json:"expires_at_ms"`
	LastSyncAtMs   int64                    `json:"last_sync_at_ms,omitempty"`
	Drift          *models.DriftReport      `json:"drift,omitempty"`
}

// JoinResult is returned to a successfully joined client.
type JoinResult struct {
	SessionID  string              `json:"session_id"`
	Role       models.PeerRole     `json:"role"`
	HostUserID string              `json:"host_user_id"`
	State      models.SessionState `json:"state"`
}

// CreateSession generates a collision-free session code and creates the
// session in Idle state. Only a host creates sessions.
func (a *App) CreateSession(hostUserID string) (*View, error) {
	if hostUserID == "" {
		return nil, fmt.Errorf("%w: host user id required", ErrInvalid)
	}
	if a.cfg.MaxSessions > 0 && a.store.Count() >= a.cfg.MaxSessions {
		return nil, ErrCapacityExceeded
	}

	nowMs := clock.NowMs(a.clock)
	s := &models.Session{
		State:       models.SessionStateIdle,
		Host:        &models.PeerRef{UserID: hostUserID},
		CreatedAtMs: nowMs,
		ExpiresAtMs: nowMs + a.cfg.SessionTTL.Milliseconds(),
	}

	// The code space is large enough that collisions among live sessions
	// are rare; retry a few times rather than reserve.
	for attempt := 0; ; attempt++ {
		code, err := newSessionCode()
		if err != nil {
			return nil, err
		}
		s.ID = code
		if a.store.Put(s) {
			break
		}
		if attempt >= 5 {
			return nil, fmt.Errorf("failed to allocate session code")
		}
	}

	a.sched.ScheduleExpiry(s.ID, a.cfg.SessionTTL)

	log.Info().
		Str("session_id", s.ID).
		Str("host_user_id", hostUserID).
		Int64("expires_at_ms", s.ExpiresAtMs).
		Msg("session created")

	return a.viewOf(s, nowMs), nil
}

// JoinSession registers the client peer and forces an immediate full sync
// instead of waiting for the next periodic cycle. A returning client with
// the same user ID replaces its connection in place.
func (a *App) JoinSession(sessionID, userID, connectionID string) (*JoinResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalid)
	}
	h, ok := a.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	var (
		result    *JoinResult
		outErr    error
		activated bool
		forced    *models.Correction
	)
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		if s.Host.UserID == userID {
			outErr = fmt.Errorf("%w: host cannot join its own session as client", ErrForbidden)
			return
		}

		switch {
		case s.Client == nil:
			s.Client = &models.PeerRef{UserID: userID, ConnectionID: connectionID}
			s.State = models.SessionStateActive
			activated = true
		case s.Client.UserID == userID:
			s.Client.ConnectionID = connectionID
		default:
			outErr = ErrSessionFull
			return
		}

		if s.HostSnapshot != nil && connectionID != "" {
			forced = a.forcedSyncLocked(s, nowMs)
		}

		result = &JoinResult{
			SessionID:  s.ID,
			Role:       models.PeerRoleClient,
			HostUserID: s.Host.UserID,
			State:      s.State,
		}
	})
	if outErr != nil {
		return nil, outErr
	}

	if activated {
		a.sched.StartPeriodic(sessionID)
	}
	if forced != nil {
		a.notifier.SendSyncCommand(connectionID, forced)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("client_user_id", userID).
		Bool("initial_sync", forced != nil).
		Msg("client joined session")

	return result, nil
}

// forcedSyncLocked builds the join-time full sync: a switch_track to the
// host's current projected position, which covers track, position and play
// state in one command.
func (a *App) forcedSyncLocked(s *models.Session, nowMs int64) *models.Correction {
	pos := s.HostSnapshot.ProjectedPositionMs(nowMs) + s.ClientOffsetMs
	if pos < 0 {
		pos = 0
	}
	s.LastSyncAtMs = nowMs
	return &models.Correction{
		Action:      models.ActionSwitchTrack,
		TrackID:     s.HostSnapshot.TrackID,
		PositionMs:  pos,
		EmittedAtMs: nowMs,
	}
}

// AttachHost binds (or rebinds after a reconnect) the host's live connection
// and disarms any pending disconnect grace timer.
func (a *App) AttachHost(sessionID, userID, connectionID string) error {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	var outErr error
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		if s.Host.UserID != userID {
			outErr = ErrForbidden
			return
		}
		s.Host.ConnectionID = connectionID
	})
	if outErr != nil {
		return outErr
	}

	a.sched.CancelGrace(sessionID)
	log.Info().
		Str("session_id", sessionID).
		Str("host_user_id", userID).
		Msg("host connection attached")
	return nil
}

// ReportHostState stores the host's latest snapshot. A track change since
// the previous snapshot triggers an immediate evaluation so song transitions
// propagate without waiting for the periodic timer.
func (a *App) ReportHostState(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	var (
		outErr     error
		corr       *models.Correction
		clientConn string
	)
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		if s.Host.ConnectionID == "" || s.Host.ConnectionID != connectionID {
			outErr = ErrForbidden
			return
		}

		trackChanged := s.HostSnapshot != nil && s.HostSnapshot.TrackID != snap.TrackID
		s.HostSnapshot = &snap

		if trackChanged && s.Client != nil {
			corr = a.engine.Evaluate(s.HostSnapshot, s.ClientSnapshot, s.ClientOffsetMs, nowMs)
			if corr != nil {
				s.LastSyncAtMs = nowMs
				clientConn = s.Client.ConnectionID
			}
		}
	})
	if outErr != nil {
		return outErr
	}

	if corr != nil && clientConn != "" {
		a.notifier.SendSyncCommand(clientConn, corr)
	}
	return nil
}

// ReportClientState stores the client's latest snapshot. It never triggers
// evaluation on its own; the client is the target of corrections, not the
// driver.
func (a *App) ReportClientState(sessionID, connectionID string, snap models.PlaybackSnapshot) error {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	var outErr error
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		if s.Client == nil || s.Client.ConnectionID == "" || s.Client.ConnectionID != connectionID {
			outErr = ErrForbidden
			return
		}
		s.ClientSnapshot = &snap
	})
	return outErr
}

// UpdateOffset clamps and stores the client's manual offset, then
// re-evaluates immediately so the adjustment takes effect without waiting
// for the timer. Returns the clamped value. Idempotent.
func (a *App) UpdateOffset(sessionID, userID string, offsetMs int64) (int64, error) {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return 0, ErrSessionNotFound
	}

	var (
		outErr     error
		clamped    int64
		corr       *models.Correction
		clientConn string
	)
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		if s.Client == nil || s.Client.UserID != userID {
			outErr = ErrForbidden
			return
		}

		clamped = clampOffset(offsetMs, a.cfg.OffsetBoundMs)
		s.ClientOffsetMs = clamped

		corr = a.engine.Evaluate(s.HostSnapshot, s.ClientSnapshot, s.ClientOffsetMs, nowMs)
		if corr != nil {
			s.LastSyncAtMs = nowMs
			clientConn = s.Client.ConnectionID
		}
	})
	if outErr != nil {
		return 0, outErr
	}

	if corr != nil && clientConn != "" {
		a.notifier.SendSyncCommand(clientConn, corr)
	}

	log.Debug().
		Str("session_id", sessionID).
		Int64("offset_ms", clamped).
		Msg("client offset updated")
	return clamped, nil
}

// RequestImmediateSync forces one evaluation cycle regardless of elapsed
// time. Client-only.
func (a *App) RequestImmediateSync(sessionID, connectionID string) error {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	var (
		outErr error
		send   func()
	)
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		if s.Client == nil || s.Client.ConnectionID == "" || s.Client.ConnectionID != connectionID {
			outErr = ErrForbidden
			return
		}
		send = a.evaluateLocked(s, nowMs)
	})
	if outErr != nil {
		return outErr
	}

	if send != nil {
		send()
	}
	return nil
}

// RunPeriodicSync is invoked by the scheduler at a fixed interval per active
// session. A cycle that finds no active client is a no-op, not an error.
func (a *App) RunPeriodicSync(sessionID string) {
	h, ok := a.store.Get(sessionID)
	if !ok {
		a.sched.Cancel(sessionID)
		return
	}

	var (
		send    func()
		expired bool
	)
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			return
		}
		if s.ExpiredAt(nowMs) {
			expired = true
			return
		}
		if s.Client == nil {
			return
		}
		send = a.evaluateLocked(s, nowMs)
	})

	if expired {
		a.ExpireSession(sessionID)
		return
	}
	if send != nil {
		send()
	}
}

// evaluateLocked runs the drift engine under the session lock and returns a
// closure that performs the sends once the lock is released. Never perform
// I/O while holding the session lock.
func (a *App) evaluateLocked(s *models.Session, nowMs int64) func() {
	if s.Client == nil {
		return nil
	}

	corr := a.engine.Evaluate(s.HostSnapshot, s.ClientSnapshot, s.ClientOffsetMs, nowMs)
	if corr != nil {
		s.LastSyncAtMs = nowMs
	}

	var report *models.DriftReport
	if driftMs, ok := a.engine.Drift(s.HostSnapshot, s.ClientSnapshot, s.ClientOffsetMs, nowMs); ok {
		report = &models.DriftReport{DriftMs: driftMs, Quality: a.engine.Quality(driftMs)}
	}

	connID := s.Client.ConnectionID
	lastSync := s.LastSyncAtMs
	sessionID := s.ID

	if connID == "" || (corr == nil && report == nil) {
		return nil
	}
	return func() {
		if corr != nil {
			log.Info().
				Str("session_id", sessionID).
				Str("action", string(corr.Action)).
				Int64("position_ms", corr.PositionMs).
				Bool("gradual", corr.Gradual).
				Msg("sync correction emitted")
			a.notifier.SendSyncCommand(connID, corr)
		}
		if report != nil {
			a.notifier.SendSyncStatus(connID, *report, lastSync)
		}
	}
}

// GetState returns the full session snapshot view, including a fresh drift
// report when both peers have reported.
func (a *App) GetState(sessionID string) (*View, error) {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	var (
		outErr error
		view   *View
	)
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State != models.SessionStateEnded && s.ExpiredAt(nowMs) {
			outErr = ErrSessionNotFound
			return
		}
		view = a.viewOf(s, nowMs)
	})
	if outErr != nil {
		return nil, outErr
	}
	return view, nil
}

// EndSession ends a session on the host's request and notifies the client.
func (a *App) EndSession(sessionID, userID string) error {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	var (
		outErr error
		notify []string
	)
	h.Do(func(s *models.Session) {
		if s.State == models.SessionStateEnded {
			outErr = ErrSessionEnded
			return
		}
		if s.Host.UserID != userID {
			outErr = ErrForbidden
			return
		}
		notify = endLocked(s, models.EndReasonHostEnded, false)
	})
	if outErr != nil {
		return outErr
	}

	a.finishTeardown(sessionID, models.EndReasonHostEnded, notify)
	return nil
}

// PeerDisconnected records a dropped transport connection. A host drop arms
// the grace timer; a client drop leaves the session Active, and the client
// may resume with the same session code and user ID.
func (a *App) PeerDisconnected(sessionID, connectionID string) {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return
	}

	var graceMs int64 = -1
	h.Do(func(s *models.Session) {
		nowMs := clock.NowMs(a.clock)
		if s.State == models.SessionStateEnded {
			return
		}
		switch {
		case s.Host.ConnectionID != "" && s.Host.ConnectionID == connectionID:
			s.Host.ConnectionID = ""
			graceMs = a.cfg.HostGrace.Milliseconds()
			if rem := s.RemainingMs(nowMs); rem < graceMs {
				graceMs = rem
			}
		case s.Client != nil && s.Client.ConnectionID != "" && s.Client.ConnectionID == connectionID:
			s.Client.ConnectionID = ""
		}
	})

	if graceMs >= 0 {
		a.sched.StartGrace(sessionID, time.Duration(graceMs)*time.Millisecond)
	}
}

// HostGraceExpired ends the session after a host failed to reconnect within
// the grace window.
func (a *App) HostGraceExpired(sessionID string) {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return
	}

	var notify []string
	ended := false
	h.Do(func(s *models.Session) {
		if s.State == models.SessionStateEnded {
			return
		}
		if s.Host.ConnectionID != "" {
			// Host came back while the timer was firing.
			return
		}
		notify = endLocked(s, models.EndReasonHostDisconnected, false)
		ended = true
	})
	if !ended {
		return
	}

	a.finishTeardown(sessionID, models.EndReasonHostDisconnected, notify)
}

// ExpireSession ends a session whose fixed lifetime ran out, notifying both
// peers.
func (a *App) ExpireSession(sessionID string) {
	h, ok := a.store.Get(sessionID)
	if !ok {
		return
	}

	var notify []string
	ended := false
	h.Do(func(s *models.Session) {
		if s.State == models.SessionStateEnded {
			return
		}
		notify = endLocked(s, models.EndReasonSessionExpired, true)
		ended = true
	})
	if !ended {
		return
	}

	a.finishTeardown(sessionID, models.EndReasonSessionExpired, notify)
}

// endLocked marks the session Ended and collects the connections to notify.
// Host-initiated and host-loss endings notify the client only; expiry
// notifies both peers.
func endLocked(s *models.Session, reason models.EndReason, includeHost bool) []string {
	s.State = models.SessionStateEnded
	s.EndReason = reason

	var notify []string
	if includeHost && s.Host.ConnectionID != "" {
		notify = append(notify, s.Host.ConnectionID)
	}
	if s.Client != nil && s.Client.ConnectionID != "" {
		notify = append(notify, s.Client.ConnectionID)
	}
	return notify
}

// finishTeardown runs outside the session lock: cancel timers, deliver
// session_ended, and drop the session from the table so further calls see
// NotFound.
func (a *App) finishTeardown(sessionID string, reason models.EndReason, notify []string) {
	a.sched.Cancel(sessionID)
	for _, connID := range notify {
		a.notifier.SendSessionEnded(connID, reason)
	}
	a.store.Delete(sessionID)

	log.Info().
		Str("session_id", sessionID).
		Str("reason", string(reason)).
		Msg("session ended")
}

func (a *App) viewOf(s *models.Session, nowMs int64) *View {
	v := &View{
		SessionID:      s.ID,
		State:          s.State,
		HostUserID:     s.Host.UserID,
		HostSnapshot:   s.HostSnapshot,
		ClientSnapshot: s.ClientSnapshot,
		ClientOffsetMs: s.ClientOffsetMs,
		CreatedAtMs:    s.CreatedAtMs,
		ExpiresAtMs:    s.ExpiresAtMs,
		LastSyncAtMs:   s.LastSyncAtMs,
	}
	if s.Client != nil {
		v.ClientUserID = s.Client.UserID
	}
	if driftMs, ok := a.engine.Drift(s.HostSnapshot, s.ClientSnapshot, s.ClientOffsetMs, nowMs); ok {
		v.Drift = &models.DriftReport{DriftMs: driftMs, Quality: a.engine.Quality(driftMs)}
	}
	return v
}

func clampOffset(offsetMs, bound int64) int64 {
	if offsetMs > bound {
		return bound
	}
	if offsetMs < -bound {
		return -bound
	}
	return offsetMs
}
