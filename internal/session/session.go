package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// session ties an opaque ID to a user and an activity timestamp.
type session struct {
	userID     string
	createdAt  time.Time
	lastActive time.Time
}

// Manager issues, validates, and revokes in-memory sessions. A session
// expires on the first validation after the inactivity timeout.
type Manager struct {
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	now func() time.Time
}

// NewManager creates a session manager with the given inactivity timeout.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		timeout:  timeout,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Create starts a session for the user and returns its opaque ID.
// IDs are unique for the lifetime of the process.
func (m *Manager) Create(userID string) string {
	id := uuid.NewString()

	m.mu.Lock()
	now := m.now()
	m.sessions[id] = &session{
		userID:     userID,
		createdAt:  now,
		lastActive: now,
	}
	m.mu.Unlock()

	return id
}

// Validate reports whether the session is active. A successful
// validation refreshes the activity timestamp; a validation past the
// inactivity timeout revokes the session and returns false.
func (m *Manager) Validate(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}

	now := m.now()
	if now.Sub(s.lastActive) > m.timeout {
		delete(m.sessions, id)
		return false
	}

	s.lastActive = now
	return true
}

// Revoke removes the session if present. Idempotent.
func (m *Manager) Revoke(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// UserID returns the user bound to an active session, without
// refreshing its activity.
func (m *Manager) UserID(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return s.userID, true
}

// Len returns the number of stored sessions, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
