package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/handle"
	"github.com/openmobility/sumo-mcp/sim/service"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrCapacityExceeded = errors.New("session capacity exceeded")
)

// DefaultMaxSessions bounds concurrently open sessions when no limit is
// configured.
const DefaultMaxSessions = 16

// how long an expired session ID stays recognizable as expired
const tombstoneRetention = 24 * time.Hour

// EngineFactory builds a fresh engine for a scenario. Each session gets its
// own engine instance; simulations are never shared across sessions.
type EngineFactory func(cfg *engine.ScenarioConfig) (engine.Engine, error)

// Manager handles simulation session lifecycle. Safe for concurrent use.
type Manager struct {
	factory     EngineFactory
	maxSessions int
	callTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*service.Session
	expired  map[string]time.Time // tombstones for expired session IDs
	pending  int                  // sessions being opened, counted toward capacity
}

// NewManager creates a session manager. maxSessions <= 0 selects the
// default limit.
func NewManager(factory EngineFactory, maxSessions int, callTimeout time.Duration) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		factory:     factory,
		maxSessions: maxSessions,
		callTimeout: callTimeout,
		sessions:    make(map[string]*service.Session),
		expired:     make(map[string]time.Time),
	}
}

// Create opens a new simulation for the scenario and registers a session for
// it. Exceeding the session limit fails immediately with ErrCapacityExceeded
// rather than queueing. The scenario's engine is opened outside the manager
// lock; a failed open leaves no session behind.
func (m *Manager) Create(ctx context.Context, scenario *engine.ScenarioConfig) (*service.Session, error) {
	m.mu.Lock()
	if len(m.sessions)+m.pending >= m.maxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit of %d concurrent sessions reached", ErrCapacityExceeded, m.maxSessions)
	}
	m.pending++
	m.mu.Unlock()

	sess, err := m.open(ctx, scenario)

	m.mu.Lock()
	m.pending--
	if err == nil {
		m.sessions[sess.ID] = sess
	}
	m.mu.Unlock()

	return sess, err
}

func (m *Manager) open(ctx context.Context, scenario *engine.ScenarioConfig) (*service.Session, error) {
	eng, err := m.factory(scenario)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	h := handle.New(id, scenario, eng, m.callTimeout)
	if err := h.Open(ctx); err != nil {
		h.Close()
		return nil, err
	}

	now := time.Now()
	return &service.Session{
		ID:             id,
		Handle:         h,
		Scenario:       scenario,
		CreatedAt:      now,
		LastAccessedAt: now,
	}, nil
}

// Get retrieves a session by ID and refreshes its activity clock in the same
// critical section. The returned value is a copy; the manager keeps the
// canonical record, so callers never share mutable timestamp fields. An
// identifier that recently expired fails with ErrSessionExpired; anything
// else unknown fails with ErrSessionNotFound.
func (m *Manager) Get(id string) (*service.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		if _, expired := m.expired[id]; expired {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionNotFound
	}
	sess.LastAccessedAt = time.Now()
	out := *sess
	return &out, nil
}

// List returns a copy of every open session.
func (m *Manager) List() []*service.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*service.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out := *sess
		result = append(result, &out)
	}
	return result
}

// Close removes a session and releases its simulation handle.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	expired := false
	if !ok {
		_, expired = m.expired[id]
	}
	m.mu.Unlock()

	if !ok {
		if expired {
			return ErrSessionExpired
		}
		return ErrSessionNotFound
	}

	if err := sess.Handle.Close(); err != nil {
		log.Warn().Str("session", id).Err(err).Msg("error releasing simulation on close")
	}
	return nil
}

// CleanupExpired closes sessions idle longer than maxAge and tombstones
// their identifiers. Returns the number of sessions removed.
func (m *Manager) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*service.Session
	for id, sess := range m.sessions {
		if sess.LastAccessedAt.Before(cutoff) {
			delete(m.sessions, id)
			m.expired[id] = time.Now()
			stale = append(stale, sess)
		}
	}
	// Prune tombstones so the expired set stays bounded.
	tombstoneCutoff := time.Now().Add(-tombstoneRetention)
	for id, at := range m.expired {
		if at.Before(tombstoneCutoff) {
			delete(m.expired, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range stale {
		if err := sess.Handle.Close(); err != nil {
			log.Warn().Str("session", sess.ID).Err(err).Msg("error releasing expired simulation")
		}
		log.Info().Str("session", sess.ID).Msg("session expired")
	}
	return len(stale)
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
