package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/google/uuid"
)

// Manager is the session registry. Sessions live in memory for the
// lifetime of the process and are keyed by an opaque ID the client
// carries between requests.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	responder Responder
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewManager creates a session registry. timeout bounds each chat round
// trip; zero means DefaultRoundTripTimeout.
func NewManager(responder Responder, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultRoundTripTimeout
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		responder: responder,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating it on first use. An
// empty id allocates a fresh session with a generated ID.
func (m *Manager) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newSession(id, m.responder, m.timeout, m.metrics, m.logger)
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id)
	return s
}
