package sim

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"banknet/pkg/errors"
	"banknet/pkg/logger"
)

// Manager keeps the live sessions. Sessions are independent; nothing is
// shared between them except the injected collaborators.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	publisher      Publisher
	archive        Archive
	advisors       []Advisor
	advisorTimeout time.Duration
	log            logger.Logger
}

func NewManager(publisher Publisher, archive Archive, advisors []Advisor, advisorTimeout time.Duration, log logger.Logger) *Manager {
	return &Manager{
		sessions:       make(map[string]*Session),
		publisher:      publisher,
		archive:        archive,
		advisors:       advisors,
		advisorTimeout: advisorTimeout,
		log:            log,
	}
}

// Create registers a new uninitialized session and returns it.
func (m *Manager) Create() *Session {
	session := NewSession(uuid.New().String(), m.publisher, m.archive, m.advisors, m.advisorTimeout, m.log)

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.log.Info("session created", map[string]interface{}{"session": session.ID})
	return session
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return session, nil
}

// Delete removes a session, unblocking its loop if one is still running.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return errors.ErrSessionNotFound
	}
	session.Close()
	return nil
}

// IDs lists the registered session ids in stable order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
