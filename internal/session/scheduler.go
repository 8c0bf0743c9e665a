package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ljungh/tandem/internal/clock"
)

// SyncDriver defines what the scheduler needs from the session app.
type SyncDriver interface {
	RunPeriodicSync(sessionID string)
	ExpireSession(sessionID string)
	HostGraceExpired(sessionID string)
}

// Scheduler owns every timer a session can have: the periodic re-evaluation
// tick, the lifetime expiry, and the host-disconnect grace window. Ending a
// session cancels all of them, so no timer is left dangling after teardown.
// Timer callbacks run on their own goroutines and re-check session state
// under the session lock, which makes cancellation race-free: an in-flight
// evaluation finishes, observes Ended, and suppresses further sends.
type Scheduler struct {
	clock    clock.Clock
	driver   SyncDriver
	interval time.Duration

	mu       sync.Mutex
	closed   bool
	periodic map[string]chan struct{}
	grace    map[string]*timerEntry
	expiry   map[string]*timerEntry
	wg       sync.WaitGroup
}

type timerEntry struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// NewScheduler creates a scheduler that fires RunPeriodicSync every interval
// per active session.
func NewScheduler(clk clock.Clock, driver SyncDriver, interval time.Duration) *Scheduler {
	return &Scheduler{
		clock:    clk,
		driver:   driver,
		interval: interval,
		periodic: make(map[string]chan struct{}),
		grace:    make(map[string]*timerEntry),
		expiry:   make(map[string]*timerEntry),
	}
}

// StartPeriodic begins the per-session sync tick. Starting an already
// started session is a no-op.
func (sc *Scheduler) StartPeriodic(sessionID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return
	}
	if _, exists := sc.periodic[sessionID]; exists {
		return
	}

	stop := make(chan struct{})
	sc.periodic[sessionID] = stop
	sc.wg.Add(1)
	go sc.runPeriodic(sessionID, stop)

	log.Debug().
		Str("session_id", sessionID).
		Dur("interval", sc.interval).
		Msg("periodic sync started")
}

func (sc *Scheduler) runPeriodic(sessionID string, stop chan struct{}) {
	defer sc.wg.Done()

	ticker := sc.clock.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			sc.driver.RunPeriodicSync(sessionID)
		case <-stop:
			return
		}
	}
}

// ScheduleExpiry arms the session lifetime timer. An existing expiry timer
// for the same session is replaced.
func (sc *Scheduler) ScheduleExpiry(sessionID string, d time.Duration) {
	sc.scheduleOneShot(sc.expiry, sessionID, d, sc.driver.ExpireSession)
}

// StartGrace arms the host-disconnect grace timer. An existing grace timer
// is replaced, so repeated disconnects restart the window.
func (sc *Scheduler) StartGrace(sessionID string, d time.Duration) {
	sc.scheduleOneShot(sc.grace, sessionID, d, sc.driver.HostGraceExpired)

	log.Info().
		Str("session_id", sessionID).
		Dur("grace", d).
		Msg("host disconnect grace timer started")
}

// CancelGrace disarms the host-disconnect grace timer, typically because the
// host reconnected in time.
func (sc *Scheduler) CancelGrace(sessionID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cancelEntryLocked(sc.grace, sessionID)
}

func (sc *Scheduler) scheduleOneShot(entries map[string]*timerEntry, sessionID string, d time.Duration, fire func(string)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return
	}
	sc.cancelEntryLocked(entries, sessionID)

	entry := &timerEntry{
		timer: sc.clock.NewTimer(d),
		stop:  make(chan struct{}),
	}
	entries[sessionID] = entry

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		select {
		case <-entry.timer.Chan():
			sc.mu.Lock()
			if entries[sessionID] == entry {
				delete(entries, sessionID)
			}
			sc.mu.Unlock()
			fire(sessionID)
		case <-entry.stop:
		}
	}()
}

// Cancel tears down every timer the session owns.
func (sc *Scheduler) Cancel(sessionID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if stop, ok := sc.periodic[sessionID]; ok {
		close(stop)
		delete(sc.periodic, sessionID)
	}
	sc.cancelEntryLocked(sc.grace, sessionID)
	sc.cancelEntryLocked(sc.expiry, sessionID)
}

// Stop cancels all timers across all sessions and waits for timer goroutines
// to drain.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	sc.closed = true
	for id, stop := range sc.periodic {
		close(stop)
		delete(sc.periodic, id)
	}
	for id := range sc.grace {
		sc.cancelEntryLocked(sc.grace, id)
	}
	for id := range sc.expiry {
		sc.cancelEntryLocked(sc.expiry, id)
	}
	sc.mu.Unlock()

	sc.wg.Wait()
}

func (sc *Scheduler) cancelEntryLocked(entries map[string]*timerEntry, sessionID string) {
	entry, ok := entries[sessionID]
	if !ok {
		return
	}
	close(entry.stop)
	stopAndDrainTimer(entry.timer)
	delete(entries, sessionID)
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern recommended by the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
