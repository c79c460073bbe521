package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/credix/creditgate/ports"
)

// ErrSessionNotFound is returned when a recharge session is absent.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is an in-memory recharge session lookup, used by tests
// and by dev mode when no Redis is configured.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]ports.RechargeSession
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]ports.RechargeSession)}
}

// Put stores a session (for testing and dev tooling).
func (s *SessionStore) Put(id string, session ports.RechargeSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(_ context.Context, id string) (ports.RechargeSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return ports.RechargeSession{}, ErrSessionNotFound
	}
	return session, nil
}

// Ensure interface compliance.
var _ ports.SessionStore = (*SessionStore)(nil)
