package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps sessions in process. It serves as the failover when the
// durable backend is unreachable.
type MemoryBackend struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	maxEntries int
	closed     bool
}

// NewMemoryBackend creates a backend holding at most maxEntries sessions.
// maxEntries <= 0 means unbounded.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return &MemoryBackend{
		sessions:   make(map[string]*Session),
		maxEntries: maxEntries,
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Load(_ context.Context, identity string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, s *Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NoRevision, ErrClosed
	}
	prev, ok := m.sessions[s.Identity]
	if !ok && m.maxEntries > 0 && len(m.sessions) >= m.maxEntries {
		return NoRevision, ErrCapacity
	}
	m.sessions[s.Identity] = s.Clone()
	if !ok {
		return NoRevision, nil
	}
	return prev.Revision, nil
}

func (m *MemoryBackend) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identity)
	return nil
}

func (m *MemoryBackend) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryBackend) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]*Session)
	return nil
}

// Sweep removes sessions whose last activity is before cutoff and returns
// how many were removed.
func (m *MemoryBackend) Sweep(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns copies of every held session.
func (m *MemoryBackend) Snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// DeleteIfRevision removes identity only while it is still held at revision.
func (m *MemoryBackend) DeleteIfRevision(identity string, revision int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[identity]
	if !ok || s.Revision != revision {
		return false
	}
	delete(m.sessions, identity)
	return true
}
