package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoSession is returned when a user has no live session.
var ErrNoSession = errors.New("no verification session")

// Manager keeps at most one live session per user.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		log:      log,
	}
}

// Start begins a verification for userID. A session still waiting for a code
// or capture is closed and replaced by one built from build, so two camera
// streams are never open for the same user. A session that is matching is
// left alone and ErrBusy returned.
func (m *Manager) Start(ctx context.Context, userID string, build func() (*Session, error)) (*Session, error) {
	m.mu.Lock()
	if cur, ok := m.sessions[userID]; ok {
		if !cur.closeUnlessMatching() {
			m.mu.Unlock()
			return cur, ErrBusy
		}
		delete(m.sessions, userID)
	}
	s, err := build()
	if err != nil {
		n := len(m.sessions)
		m.mu.Unlock()
		activeSessions.Set(float64(n))
		return nil, err
	}
	m.sessions[userID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	activeSessions.Set(float64(n))

	if _, err := s.Begin(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Remove cancels and forgets the user's session.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		s.Cancel()
		s.Close()
	}
	activeSessions.Set(float64(n))
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than ttl. Sessions in MATCHING are
// skipped since their comparator call is still running.
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)
	m.mu.Lock()
	swept := 0
	for id, s := range m.sessions {
		if s.closeIfIdle(cutoff) {
			delete(m.sessions, id)
			swept++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	activeSessions.Set(float64(n))
	if swept > 0 {
		m.log.Debug().Int("swept", swept).Int("active", n).Msg("idle verification sessions closed")
	}
	return swept
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(ttl)
		}
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	activeSessions.Set(0)
}
