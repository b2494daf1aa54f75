package storage

import (
	"context"
	"sync"
	"time"
)

var _ SessionStore = (*MemoryStorage)(nil)

type memoryEntry struct {
	session   Session
	updatedAt time.Time
}

// MemoryStorage keeps sessions in process memory. Records are lost on
// restart, which is acceptable for local development and tests.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStorage creates an in-memory store. A ttl of zero keeps records
// until they are deleted.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStorage) expired(e memoryEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.updatedAt) > s.ttl
}

func (s *MemoryStorage) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok || s.expired(e, s.now()) {
		return nil, ErrSessionNotFound
	}
	sess := e.session
	return &sess, nil
}

func (s *MemoryStorage) PutSession(_ context.Context, id string, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = memoryEntry{session: *sess, updatedAt: s.now()}
	return nil
}

func (s *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *MemoryStorage) CleanupExpiredSessions(_ context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
