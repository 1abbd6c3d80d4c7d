package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	session *Session
	expires time.Time
}

// MemoryRegistry keeps sessions in process. It is the default backend and
// applies the same TTL rules as the Redis one.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	closed   bool

	now func() time.Time
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryRegistry{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// live returns the entry for id if it has not expired. Callers hold mu.
func (m *MemoryRegistry) live(id string) (memoryEntry, bool) {
	e, ok := m.sessions[id]
	if !ok || !m.now().Before(e.expires) {
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryRegistry) put(s *Session) {
	now := m.now()
	c := s.Clone()
	c.LastHeartbeat = now
	m.sessions[s.ID] = memoryEntry{session: c, expires: now.Add(m.ttl)}
}

func (m *MemoryRegistry) Register(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.live(s.ID); ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
	}
	m.put(s)
	return nil
}

func (m *MemoryRegistry) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.live(s.ID); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	m.put(s)
	return nil
}

func (m *MemoryRegistry) UpdateState(ctx context.Context, id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	e, ok := m.live(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.session.State = state
	m.put(e.session)
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.live(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.session.Clone(), nil
}

// List returns live sessions ordered by start time and drops expired ones.
func (m *MemoryRegistry) List(ctx context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for id := range m.sessions {
		e, ok := m.live(id)
		if !ok {
			delete(m.sessions, id)
			continue
		}
		sessions = append(sessions, e.session.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (m *MemoryRegistry) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.live(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]memoryEntry)
	return nil
}
