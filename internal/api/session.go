package api

import (
	"sync"
	"time"

	"github.com/nugget/azaman/internal/state"
)

// Session binds a user id to the thread their turns run on.
type Session struct {
	UserID    string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	StartedAt time.Time `json:"started_at"`
}

// Sessions is the server-side table of open user sessions. Dropping a
// session does not touch the persisted thread; the next session for the
// same user binds to it again.
type Sessions struct {
	mu     sync.Mutex
	byUser map[string]Session
	now    func() time.Time
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{
		byUser: make(map[string]Session),
		now:    time.Now,
	}
}

// Bind returns the open session for userID, opening one if needed. The
// second result reports whether the session was created by this call.
func (s *Sessions) Bind(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.byUser[userID]; ok {
		return sess, false
	}
	sess := Session{
		UserID:    userID,
		ThreadID:  state.ThreadID(userID),
		StartedAt: s.now().UTC(),
	}
	s.byUser[userID] = sess
	return sess, true
}

// Lookup returns the open session for userID.
func (s *Sessions) Lookup(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byUser[userID]
	return sess, ok
}

// Reset closes the session for userID and reports whether one was open.
func (s *Sessions) Reset(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byUser[userID]
	delete(s.byUser, userID)
	return ok
}

// Count returns the number of open sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}
