package userstate

import (
	"log/slog"
	"sync"

	"github.com/agentia/replyflow/internal/identity"
)

// Manager is the process-wide registry of user states with double-checked
// creation. At most one State exists per user_id.
type Manager struct {
	identity *identity.Service
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*State // user_id -> state
}

func NewManager(ids *identity.Service, logger *slog.Logger) *Manager {
	return &Manager{
		identity: ids,
		logger:   logger,
		states:   make(map[string]*State),
	}
}

// Get returns the state for a user, hydrating it from disk on first access.
// The username is recorded for legacy data migration and display.
func (m *Manager) Get(username, userID string) (*State, error) {
	m.mu.Lock()
	if st, ok := m.states[userID]; ok {
		st.Username = username
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	// Hydration does file I/O, so it happens outside the registry lock; the
	// second check below resolves the race.
	data, err := m.identity.LoadEmailData(userID, username)
	if err != nil {
		return nil, err
	}
	st := New(username, userID)
	st.LoadFrom(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.states[userID]; ok {
		return existing, nil
	}
	m.states[userID] = st
	return st, nil
}

// Identity exposes the persistence service for state saves.
func (m *Manager) Identity() *identity.Service { return m.identity }
