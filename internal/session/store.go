package session

import (
	"sync"

	"github.com/ljungh/tandem/internal/models"
)

// Handle wraps one session with its exclusive critical section. All state
// mutation and drift evaluation for a session happens inside Do, so a host
// report and a manual offset change can never race into an inconsistent
// evaluation. Callers must not perform network I/O inside Do.
type Handle struct {
	mu sync.Mutex
	s  *models.Session
}

// Do runs fn with exclusive access to the session.
func (h *Handle) Do(fn func(s *models.Session)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.s)
}

// Store is the process-wide session table. Lookups may run concurrently;
// create and delete are mutually exclusive. It holds the latest known peer
// snapshots by way of the sessions themselves and carries no policy.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Handle
}

// NewStore creates an empty session table.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Handle),
	}
}

// Put inserts a session under its ID. It returns false when the ID is
// already taken, which the creator uses as its collision check.
func (st *Store) Put(s *models.Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[s.ID]; exists {
		return false
	}
	st.sessions[s.ID] = &Handle{s: s}
	return true
}

// Get looks up a session handle by ID.
func (st *Store) Get(id string) (*Handle, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.sessions[id]
	return h, ok
}

// Delete removes a session from the table.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// IDs returns a snapshot of all live session IDs.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}
