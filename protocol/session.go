package protocol

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxMessagesPerMinute bounds the sliding-window request rate per session.
const MaxMessagesPerMinute = 60

// SessionIdleTimeout is how long a session may sit with no activity before
// the sweep in Manager.Run reaps it.
const SessionIdleTimeout = time.Hour

// Session tracks per-connection state: when it was created, when it was
// last active, and the rate-limiting state used to admit or reject
// incoming requests.
//
// Rate limiting is two-layered: a golang.org/x/time/rate.Limiter gives a
// cheap token-bucket pre-check, and a timestamp deque behind it enforces
// the literal "no more than N requests in the trailing 60 seconds" rule,
// since a token bucket alone does not guarantee that exact window
// semantics.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time

	mu         sync.Mutex
	limiter    *rate.Limiter
	timestamps []time.Time
}

// NewSession creates a session admitting up to MaxMessagesPerMinute
// requests per rolling minute.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		limiter:      rate.NewLimiter(rate.Limit(float64(MaxMessagesPerMinute)/60.0), MaxMessagesPerMinute),
		timestamps:   make([]time.Time, 0, MaxMessagesPerMinute),
	}
}

// Allow records one activity attempt and reports whether it is within the
// session's rate limit. It always updates LastActivity, including on
// rejection, since a chatty-but-throttled client is still an active one.
func (s *Session) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.LastActivity = now

	if !s.limiter.AllowN(now, 1) {
		return false
	}

	cutoff := now.Add(-time.Minute)
	trimmed := s.timestamps[:0]
	for _, ts := range s.timestamps {
		if ts.After(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	s.timestamps = trimmed

	if len(s.timestamps) >= MaxMessagesPerMinute {
		return false
	}
	s.timestamps = append(s.timestamps, now)
	return true
}

// Idle reports whether the session has had no activity since before cutoff.
func (s *Session) Idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity.Before(cutoff)
}

// Manager tracks the set of live sessions for a single process, sweeping
// idle ones on a timer.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty session Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating one if it does not
// already exist.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := NewSession(id)
	m.sessions[id] = s
	return s
}

// Remove deletes the session for id, if any.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes every session idle since before cutoff, returning the
// removed session IDs for logging.
func (m *Manager) Sweep(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, s := range m.sessions {
		if s.Idle(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Run sweeps idle sessions every interval until stop is closed.
func (m *Manager) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep(time.Now().Add(-SessionIdleTimeout))
		}
	}
}
