package results

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionEntry struct {
	owner   string
	session *Session
}

// SessionStore holds open pagination sessions keyed by id. Sessions are only
// visible to the principal that opened them.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uuid.UUID]*sessionEntry)}
}

// Put registers a session and returns its new id.
func (st *SessionStore) Put(owner string, s *Session) uuid.UUID {
	id := uuid.New()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = &sessionEntry{owner: owner, session: s}
	return id
}

// Get returns the session if it exists and belongs to owner.
func (st *SessionStore) Get(owner string, id uuid.UUID) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.sessions[id]
	if !ok || e.owner != owner {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Delete removes the session if it belongs to owner.
func (st *SessionStore) Delete(owner string, id uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[id]
	if !ok || e.owner != owner {
		return ErrSessionNotFound
	}
	delete(st.sessions, id)
	return nil
}

// Len returns the number of open sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictIdle drops sessions untouched for longer than maxIdle and returns how
// many were removed.
func (st *SessionStore) EvictIdle(now time.Time, maxIdle time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, e := range st.sessions {
		if now.Sub(e.session.idleSince()) > maxIdle {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}
