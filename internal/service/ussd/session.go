package ussd

import (
	"sync"
	"time"

	"github.com/cuptrace/cuptrace/internal/domain/models"
)

type sessionEntry struct {
	state     models.USSDSession
	expiresAt time.Time
}

// SessionManager holds per-session conversation state with a TTL. Expired
// sessions behave as absent on read and are physically removed by Sweep.
type SessionManager struct {
	sessions map[string]sessionEntry
	ttl      time.Duration
	mu       sync.RWMutex
	now      func() time.Time
}

// NewSessionManager creates a session manager with the given TTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]sessionEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get retrieves the current state for a session. A missing or expired
// session yields a fresh state at the main menu.
func (sm *SessionManager) Get(sessionID string) models.USSDSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	entry, exists := sm.sessions[sessionID]
	if !exists || sm.now().After(entry.expiresAt) {
		return models.USSDSession{Step: models.USSDStepMenu}
	}
	return entry.state
}

// Update stores the state for a session and resets its expiry.
func (sm *SessionManager) Update(sessionID string, state models.USSDSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[sessionID] = sessionEntry{state: state, expiresAt: sm.now().Add(sm.ttl)}
}

// Clear removes a session.
func (sm *SessionManager) Clear(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sessionID)
}

// Sweep drops all expired sessions and returns how many were removed.
func (sm *SessionManager) Sweep() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	removed := 0
	for id, entry := range sm.sessions {
		if now.After(entry.expiresAt) {
			delete(sm.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked sessions, expired ones included.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
